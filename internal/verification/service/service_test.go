package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kinship/internal/verification/authz"
	"kinship/internal/verification/models"
	"kinship/internal/verification/provider"
	"kinship/internal/verification/service/mocks"
	"kinship/internal/verification/store/sessionlimit"
	dErrors "kinship/pkg/domain-errors"
	"kinship/pkg/platform/audit"
	"kinship/pkg/requestcontext"
)

const (
	testCredential = "token-u1"
	testReturnURL  = "https://app.example.com/profile?verification=return"
)

type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	provider   *mocks.MockProviderClient
	profiles   *mocks.MockProfileStore
	authorizer *mocks.MockAuthorizer
	verifier   *mocks.MockWebhookVerifier
	dedup      *mocks.MockEventDedup
	notifier   *mocks.MockNotifier
	limiter    *mocks.MockSessionLimiter
	auditor    *mocks.MockAuditPublisher
	service    *Service
	ctx        context.Context
	now        time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProviderClient(s.ctrl)
	s.profiles = mocks.NewMockProfileStore(s.ctrl)
	s.authorizer = mocks.NewMockAuthorizer(s.ctrl)
	s.verifier = mocks.NewMockWebhookVerifier(s.ctrl)
	s.dedup = mocks.NewMockEventDedup(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.limiter = mocks.NewMockSessionLimiter(s.ctrl)
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	s.service = New(s.provider, s.profiles, s.authorizer, s.verifier,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithEventDedup(s.dedup),
		WithNotifier(s.notifier),
		WithSessionLimiter(s.limiter),
		WithAuditPublisher(s.auditor),
	)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) expectAuthorized(userID string) {
	s.authorizer.EXPECT().Authorize(gomock.Any(), testCredential).Return(authz.Identity{UserID: userID}, nil)
}

func (s *ServiceSuite) expectOwnershipCheck(userID, target string) {
	var err error
	if userID != target {
		err = dErrors.New(dErrors.CodeForbidden, "forbidden")
	}
	s.authorizer.EXPECT().AssertOwnsTarget(gomock.Any(), authz.Identity{UserID: userID}, target).Return(err)
}

func (s *ServiceSuite) TestStartVerification() {
	s.Run("creates session and marks profile pending", func() {
		s.expectAuthorized("u1")
		s.expectOwnershipCheck("u1", "u1")
		s.limiter.EXPECT().Allow(gomock.Any(), "u1").Return(&sessionlimit.Result{Allowed: true, Reservation: "slot-0"}, nil)
		s.limiter.EXPECT().Release(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		s.provider.EXPECT().CreateSession(gomock.Any(), "u1", testReturnURL).
			Return(&models.Session{ID: "vs_1", RedirectURL: "https://verify.example/vs_1", OwnerUserID: "u1"}, nil)
		s.profiles.EXPECT().Set(gomock.Any(), models.NewProfileState("u1", models.ProfileStatusPending, s.now).WithSession("vs_1")).Return(nil)

		res, err := s.service.StartVerification(s.ctx, testCredential, "u1", testReturnURL)
		s.Require().NoError(err)
		s.Equal("vs_1", res.SessionID)
		s.Equal("https://verify.example/vs_1", res.RedirectURL)
	})

	s.Run("other user's target is forbidden with no provider call or write", func() {
		s.expectAuthorized("u1")
		s.expectOwnershipCheck("u1", "u2")
		s.provider.EXPECT().CreateSession(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.StartVerification(s.ctx, testCredential, "u2", testReturnURL)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("invalid credential is unauthorized", func() {
		s.authorizer.EXPECT().Authorize(gomock.Any(), "bad").
			Return(authz.Identity{}, dErrors.New(dErrors.CodeUnauthorized, authz.ReasonInvalidOrExpired))

		_, err := s.service.StartVerification(s.ctx, "bad", "u1", testReturnURL)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("provider failure leaves profile untouched", func() {
		s.expectAuthorized("u1")
		s.expectOwnershipCheck("u1", "u1")
		s.limiter.EXPECT().Allow(gomock.Any(), "u1").Return(&sessionlimit.Result{Allowed: true, Reservation: "slot-1"}, nil)
		s.limiter.EXPECT().Release(gomock.Any(), "u1", "slot-1").Return(nil)
		s.provider.EXPECT().CreateSession(gomock.Any(), "u1", testReturnURL).
			Return(nil, &provider.Error{Kind: provider.KindUnavailable, Operation: "create_session", Message: "timeout"})
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.StartVerification(s.ctx, testCredential, "u1", testReturnURL)
		s.True(dErrors.HasCode(err, dErrors.CodeProviderUnavailable))
	})

	s.Run("provider rejection message is surfaced", func() {
		s.expectAuthorized("u1")
		s.expectOwnershipCheck("u1", "u1")
		s.limiter.EXPECT().Allow(gomock.Any(), "u1").Return(&sessionlimit.Result{Allowed: true, Reservation: "slot-2"}, nil)
		s.limiter.EXPECT().Release(gomock.Any(), "u1", "slot-2").Return(errors.New("redis down"))
		s.provider.EXPECT().CreateSession(gomock.Any(), "u1", testReturnURL).
			Return(nil, &provider.Error{Kind: provider.KindRejected, StatusCode: 400, Message: "Invalid return_url"})
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.StartVerification(s.ctx, testCredential, "u1", testReturnURL)
		var de *dErrors.Error
		s.Require().ErrorAs(err, &de)
		s.Equal(dErrors.CodeProviderRejected, de.Code)
		s.Equal("Invalid return_url", de.Message)
	})

	s.Run("exhausted session budget is rate limited", func() {
		s.expectAuthorized("u1")
		s.expectOwnershipCheck("u1", "u1")
		s.limiter.EXPECT().Allow(gomock.Any(), "u1").Return(&sessionlimit.Result{Allowed: false}, nil)
		s.provider.EXPECT().CreateSession(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := s.service.StartVerification(s.ctx, testCredential, "u1", testReturnURL)
		s.True(dErrors.HasCode(err, dErrors.CodeTooManyRequests))
	})

	s.Run("limiter outage does not block", func() {
		s.expectAuthorized("u1")
		s.expectOwnershipCheck("u1", "u1")
		s.limiter.EXPECT().Allow(gomock.Any(), "u1").Return(nil, errors.New("redis down"))
		s.provider.EXPECT().CreateSession(gomock.Any(), "u1", testReturnURL).
			Return(&models.Session{ID: "vs_2", RedirectURL: "https://verify.example/vs_2"}, nil)
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.service.StartVerification(s.ctx, testCredential, "u1", testReturnURL)
		s.NoError(err)
	})

	s.Run("bad input is rejected before the provider", func() {
		cases := []struct {
			target    string
			returnURL string
		}{
			{"", testReturnURL},
			{"u1", ""},
			{"u1", "not a url"},
			{"u1", "ftp://files.example.com/x"},
		}
		for _, tc := range cases {
			s.expectAuthorized("u1")
			if tc.target != "" {
				s.expectOwnershipCheck("u1", tc.target)
			}
			_, err := s.service.StartVerification(s.ctx, testCredential, tc.target, tc.returnURL)
			s.True(dErrors.HasCode(err, dErrors.CodeBadRequest), "target=%q url=%q", tc.target, tc.returnURL)
		}
	})
}

func (s *ServiceSuite) TestPollSession() {
	s.Run("status mapping", func() {
		cases := []struct {
			status   models.SessionStatus
			want     string
			verified bool
		}{
			{models.SessionStatusProcessing, "processing", false},
			{models.SessionStatusRequiresInput, "requires_input", false},
			{models.SessionStatusCanceled, "failed", false},
		}
		for _, tc := range cases {
			s.expectAuthorized("u1")
			s.provider.EXPECT().GetSession(gomock.Any(), "vs_1").
				Return(&models.Session{ID: "vs_1", Status: tc.status, OwnerUserID: "u1"}, nil)
			s.expectOwnershipCheck("u1", "u1")
			// Non-verified statuses never touch the profile.
			s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)
			s.profiles.EXPECT().SetForSession(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			res, err := s.service.PollSession(s.ctx, testCredential, "vs_1")
			s.Require().NoError(err)
			s.Equal(tc.want, res.Status)
			s.Equal(tc.verified, res.Verified)
		}
	})

	s.Run("verified session reconciles the profile", func() {
		s.expectAuthorized("u1")
		s.provider.EXPECT().GetSession(gomock.Any(), "vs_1").
			Return(&models.Session{ID: "vs_1", Status: models.SessionStatusVerified, OwnerUserID: "u1"}, nil)
		s.expectOwnershipCheck("u1", "u1")
		s.profiles.EXPECT().Set(gomock.Any(), models.NewProfileState("u1", models.ProfileStatusVerified, s.now).WithSession("vs_1")).Return(nil)
		s.dedup.EXPECT().Claim(gomock.Any(), "u1:vs_1:verified").Return(true, nil)
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)

		res, err := s.service.PollSession(s.ctx, testCredential, "vs_1")
		s.Require().NoError(err)
		s.Equal(&models.PollResult{Status: "verified", Verified: true}, res)
	})

	s.Run("session of another user is forbidden and not reconciled", func() {
		s.expectAuthorized("u1")
		s.provider.EXPECT().GetSession(gomock.Any(), "vs_9").
			Return(&models.Session{ID: "vs_9", Status: models.SessionStatusVerified, OwnerUserID: "u9"}, nil)
		s.expectOwnershipCheck("u1", "u9")
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)

		res, err := s.service.PollSession(s.ctx, testCredential, "vs_9")
		s.Nil(res)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown session is not found", func() {
		s.expectAuthorized("u1")
		s.provider.EXPECT().GetSession(gomock.Any(), "vs_missing").
			Return(nil, &provider.Error{Kind: provider.KindNotFound, StatusCode: 404, Message: "No such verification session"})

		_, err := s.service.PollSession(s.ctx, testCredential, "vs_missing")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("empty session id is a bad request", func() {
		s.expectAuthorized("u1")
		_, err := s.service.PollSession(s.ctx, testCredential, "  ")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestHandleWebhook() {
	verified := []byte(`{"id":"evt_1","type":"identity.verification_session.verified","data":{"object":{"id":"vs_7","status":"verified","metadata":{"user_id":"u7"}}}}`)

	s.Run("session event with a mistyped object is malformed", func() {
		body := []byte(`{"id":"evt_10","type":"identity.verification_session.verified","data":{"object":{"id":"vs_7","metadata":{"user_id":7}}}}`)
		s.verifier.EXPECT().Verify(body, "sig").Return(true)
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)

		err := s.service.HandleWebhook(s.ctx, body, "sig")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("invalid signature is rejected before parsing", func() {
		s.verifier.EXPECT().Verify(gomock.Any(), "t=1,v0=abc").Return(false)
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)

		err := s.service.HandleWebhook(s.ctx, []byte("not even json"), "t=1,v0=abc")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidSignature))
	})

	s.Run("signed garbage is malformed", func() {
		s.verifier.EXPECT().Verify(gomock.Any(), "sig").Return(true)
		err := s.service.HandleWebhook(s.ctx, []byte("{"), "sig")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("duplicate delivery rewrites state but skips side effects", func() {
		s.verifier.EXPECT().Verify(verified, "sig").Return(true).Times(2)
		s.profiles.EXPECT().Set(gomock.Any(), models.NewProfileState("u7", models.ProfileStatusVerified, s.now).WithSession("vs_7")).Return(nil).Times(2)
		gomock.InOrder(
			s.dedup.EXPECT().Claim(gomock.Any(), "u7:vs_7:verified").Return(true, nil),
			s.dedup.EXPECT().Claim(gomock.Any(), "u7:vs_7:verified").Return(false, nil),
		)
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(1)

		s.Require().NoError(s.service.HandleWebhook(s.ctx, verified, "sig"))
		s.Require().NoError(s.service.HandleWebhook(s.ctx, verified, "sig"))
	})

	s.Run("dedup outage still notifies", func() {
		s.verifier.EXPECT().Verify(verified, "sig").Return(true)
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Return(nil)
		s.dedup.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))
		s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)

		s.NoError(s.service.HandleWebhook(s.ctx, verified, "sig"))
	})

	s.Run("store failure is internal", func() {
		s.verifier.EXPECT().Verify(verified, "sig").Return(true)
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

		err := s.service.HandleWebhook(s.ctx, verified, "sig")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("canceled with last_error is scoped to the tracked session", func() {
		canceled := []byte(`{"id":"evt_2","type":"identity.verification_session.canceled","data":{"object":{"id":"vs_7","status":"canceled","metadata":{"user_id":"u7"},"last_error":{"code":"document_expired","reason":"expired"}}}}`)
		s.verifier.EXPECT().Verify(canceled, "sig").Return(true)
		s.profiles.EXPECT().SetForSession(gomock.Any(), models.NewProfileState("u7", models.ProfileStatusFailed, s.now).WithSession("vs_7"), models.ProfileStatusVerified).
			Return(false, nil)
		s.dedup.EXPECT().Claim(gomock.Any(), gomock.Any()).Times(0)

		s.NoError(s.service.HandleWebhook(s.ctx, canceled, "sig"))
	})

	s.Run("unknown and ownerless events are ignored", func() {
		for _, body := range []string{
			`{"id":"evt_3","type":"identity.verification_session.created","data":{"object":{"id":"vs_7","metadata":{"user_id":"u7"}}}}`,
			`{"id":"evt_4","type":"charge.succeeded","data":{"object":{}}}`,
			`{"id":"evt_5","type":"identity.verification_session.verified","data":{"object":{"id":"vs_8","status":"verified"}}}`,
			`{"id":"evt_6","type":"identity.verification_session.canceled","data":{"object":{"id":"vs_8","status":"canceled","metadata":{"user_id":"u8"}}}}`,
			`{"id":"evt_7","type":"identity.verification_report.ready","data":{"object":{"metadata":{"attempt":2}}}}`,
			`{"id":"evt_8","type":"some.new.event","data":{"object":{"last_error":"oops"}}}`,
			`{"id":"evt_9","type":"invoice.paid","data":"opaque"}`,
		} {
			s.verifier.EXPECT().Verify([]byte(body), "sig").Return(true)
			s.NoError(s.service.HandleWebhook(s.ctx, []byte(body), "sig"), body)
		}
		s.profiles.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)
	})
}

func (s *ServiceSuite) TestAuditRecordsDeniedStart() {
	ctrl := gomock.NewController(s.T())
	auditor := mocks.NewMockAuditPublisher(ctrl)
	svc := New(s.provider, s.profiles, s.authorizer, s.verifier, WithAuditPublisher(auditor))

	s.expectAuthorized("u1")
	s.expectOwnershipCheck("u1", "u2")
	auditor.EXPECT().Emit(gomock.Any(), gomock.Cond(func(e audit.Event) bool {
		return e.Action == audit.ActionStartDenied && e.UserID == "u1"
	})).Return(nil)

	_, err := svc.StartVerification(s.ctx, testCredential, "u2", testReturnURL)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestTranslateProviderError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want dErrors.Code
	}{
		{"unavailable", &provider.Error{Kind: provider.KindUnavailable}, dErrors.CodeProviderUnavailable},
		{"rejected", &provider.Error{Kind: provider.KindRejected, Message: "nope"}, dErrors.CodeProviderRejected},
		{"not found", &provider.Error{Kind: provider.KindNotFound}, dErrors.CodeNotFound},
		{"foreign error", context.DeadlineExceeded, dErrors.CodeProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := dErrors.CodeOf(translateProviderError(tc.err)); got != tc.want {
				t.Errorf("code = %s, want %s", got, tc.want)
			}
		})
	}
}
