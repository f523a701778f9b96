package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"kinship/internal/platform/middleware"
	"kinship/internal/verification/signature"
	dErrors "kinship/pkg/domain-errors"
)

// API actions carried in the JSON body of an authenticated call.
const (
	actionCreateSession = "create_session"
	actionPollSession   = "poll_session"
)

// request is a /verify call resolved once into one of its three arms.
type request interface {
	isRequest()
}

type createSessionRequest struct {
	Credential string
	UserID     string
	ReturnURL  string
}

type pollSessionRequest struct {
	Credential string
	SessionID  string
}

type webhookRequest struct {
	Payload   []byte
	Signature string
}

func (createSessionRequest) isRequest() {}
func (pollSessionRequest) isRequest()   {}
func (webhookRequest) isRequest()       {}

// apiBody is the JSON body of an authenticated call.
type apiBody struct {
	Action    string `json:"action"`
	UserID    string `json:"userId"`
	ReturnURL string `json:"returnUrl"`
	SessionID string `json:"sessionId"`
}

// resolveRequest reads r into a request. A request carrying the provider
// signature header is a webhook; anything else must present a bearer token.
func resolveRequest(w http.ResponseWriter, r *http.Request, maxBody int64) (request, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "request body too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "unable to read request body")
	}

	if sig, ok := r.Header[http.CanonicalHeaderKey(signature.HeaderName)]; ok {
		return webhookRequest{Payload: body, Signature: strings.Join(sig, ",")}, nil
	}

	credential, ok := middleware.BearerToken(r)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}

	var in apiBody
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}

	switch in.Action {
	case actionCreateSession:
		return createSessionRequest{Credential: credential, UserID: in.UserID, ReturnURL: in.ReturnURL}, nil
	case actionPollSession:
		return pollSessionRequest{Credential: credential, SessionID: in.SessionID}, nil
	case "":
		return nil, dErrors.New(dErrors.CodeBadRequest, "action is required")
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown action: "+in.Action)
	}
}
