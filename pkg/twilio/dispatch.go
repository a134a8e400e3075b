package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	gotwilio "github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/haivivi/phonecall/pkg/call"
)

// ErrBadRequest marks dispatch requests that are missing a field.
var ErrBadRequest = errors.New("twilio: bad dispatch request")

// CallCreator is the subset of the Twilio REST API used to place calls.
// *twilioapi.ApiService satisfies it.
type CallCreator interface {
	CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error)
}

// Config holds the Twilio account and the caller id used for outbound calls.
type Config struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
}

// NewRESTClient returns the REST API of the configured account.
func NewRESTClient(cfg Config) *twilioapi.ApiService {
	c := gotwilio.NewRestClientWithParams(gotwilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return c.Api
}

// DispatchRequest asks for an outbound call. Params become the media
// stream's custom parameters and must carry the user and persona ids.
type DispatchRequest struct {
	TargetPhoneNumber string            `json:"target_phone_number" yaml:"target_phone_number"`
	Params            map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// DispatchResponse carries the Twilio call sid.
type DispatchResponse struct {
	CallID string `json:"call_id"`
}

// Dispatcher places outbound calls whose audio is streamed to StreamURL.
type Dispatcher struct {
	API       CallCreator
	From      string
	StreamURL string
	Logger    *slog.Logger
}

// Dial places a call to req.TargetPhoneNumber and returns its sid.
func (d *Dispatcher) Dial(_ context.Context, req DispatchRequest) (string, error) {
	if req.TargetPhoneNumber == "" {
		return "", fmt.Errorf("%w: target_phone_number is required", ErrBadRequest)
	}
	for _, k := range []string{call.ParamUserID, call.ParamPersonaID} {
		if req.Params[k] == "" {
			return "", fmt.Errorf("%w: params.%s is required", ErrBadRequest, k)
		}
	}
	params := make(map[string]string, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	params["To"] = req.TargetPhoneNumber

	doc, err := StreamTwiML(d.StreamURL, params)
	if err != nil {
		return "", err
	}
	p := &twilioapi.CreateCallParams{}
	p.SetTo(req.TargetPhoneNumber)
	p.SetFrom(d.From)
	p.SetTwiml(doc)
	resp, err := d.API.CreateCall(p)
	if err != nil {
		return "", fmt.Errorf("twilio: create call: %w", err)
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("twilio: create call: response without sid")
	}
	d.logger().Info("call dispatched", "call_sid", *resp.Sid, "to", req.TargetPhoneNumber)
	return *resp.Sid, nil
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// ServeHTTP implements POST /dispatch.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req DispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sid, err := d.Dial(r.Context(), req)
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		d.logger().Error("dispatch failed", "error", err)
		writeError(w, http.StatusBadGateway, "call could not be placed")
		return
	}
	writeJSON(w, http.StatusOK, DispatchResponse{CallID: sid})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
