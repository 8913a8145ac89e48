// Package auth verifies that an inbound telemetry payload was signed by the
// device it claims to come from.
package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"fleetpulse/internal/model"
)

const (
	HeaderSignature   = "X-HMAC-Signature"
	HeaderEquipmentID = "X-Equipment-Id"
)

const (
	CodeMissingEquipmentID = "MISSING_EQUIPMENT_ID"
	CodeKeyMissing         = "HMAC_KEY_MISSING"
	CodeMissingSignature   = "MISSING_HMAC_SIGNATURE"
	CodeInvalidSignature   = "INVALID_HMAC_SIGNATURE"
	CodeLookupFailed       = "AUTH_LOOKUP_FAILED"
)

// Error carries the HTTP status and a stable code for the caller.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*model.Device, error)
}

type SettingsProvider interface {
	Settings() model.Settings
}

type Authenticator struct {
	devices  DeviceLookup
	settings SettingsProvider
	logger   *slog.Logger
	maxBody  int64
}

func NewAuthenticator(devices DeviceLookup, settings SettingsProvider, logger *slog.Logger, maxBody int64) *Authenticator {
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	return &Authenticator{devices: devices, settings: settings, logger: logger, maxBody: maxBody}
}

// Sign returns the lowercase hex HMAC-SHA256 of body under key.
func Sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature over the raw body. It returns the equipment id
// it authenticated, or "" with a nil error when signatures are not required.
func (a *Authenticator) Verify(ctx context.Context, header http.Header, body []byte) (string, error) {
	if a.settings != nil && !a.settings.Settings().SignatureRequired {
		return "", nil
	}
	equipmentID := EquipmentID(header, body)
	if equipmentID == "" {
		return "", &Error{Status: http.StatusBadRequest, Code: CodeMissingEquipmentID, Message: "equipment id is required"}
	}
	dev, err := a.devices.GetDevice(ctx, equipmentID)
	if err != nil {
		if a.logger != nil {
			a.logger.Error("device lookup failed", "equipment_id", equipmentID, "err", err)
		}
		return "", &Error{Status: http.StatusInternalServerError, Code: CodeLookupFailed, Message: "authentication unavailable"}
	}
	if dev == nil || dev.HMACKey == nil || *dev.HMACKey == "" {
		return "", &Error{Status: http.StatusUnauthorized, Code: CodeKeyMissing, Message: "no signing key configured for device"}
	}
	provided := Signature(header)
	if provided == "" {
		return "", &Error{Status: http.StatusUnauthorized, Code: CodeMissingSignature, Message: "signature header is required"}
	}
	expected := Sign(*dev.HMACKey, body)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(provided)), []byte(expected)) != 1 {
		return "", &Error{Status: http.StatusUnauthorized, Code: CodeInvalidSignature, Message: "signature does not match payload"}
	}
	return equipmentID, nil
}

type ctxKey struct{}

// EquipmentIDFromContext returns the id set by Middleware, if any.
func EquipmentIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Middleware verifies the request before handing it on with the body restored.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
		if err != nil {
			writeError(w, &Error{Status: http.StatusBadRequest, Code: "INVALID_BODY", Message: "request body could not be read"})
			return
		}
		equipmentID, err := a.Verify(r.Context(), r.Header, body)
		if err != nil {
			var authErr *Error
			if !errors.As(err, &authErr) {
				authErr = &Error{Status: http.StatusInternalServerError, Code: CodeLookupFailed, Message: "authentication unavailable"}
			}
			if a.logger != nil {
				a.logger.Warn("device authentication failed", "code", authErr.Code, "remote", r.RemoteAddr)
			}
			writeError(w, authErr)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := r.Context()
		if equipmentID != "" {
			ctx = context.WithValue(ctx, ctxKey{}, equipmentID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Signature reads the claimed signature from the custom header or an
// Authorization header of the form "HMAC-SHA256 <hex>".
func Signature(header http.Header) string {
	if v := strings.TrimSpace(header.Get(HeaderSignature)); v != "" {
		return v
	}
	authz := strings.TrimSpace(header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	scheme, value, ok := strings.Cut(authz, " ")
	if !ok {
		return ""
	}
	switch strings.ToUpper(scheme) {
	case "HMAC", "HMAC-SHA256":
		return strings.TrimSpace(value)
	}
	return ""
}

func writeError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": e.Message, "code": e.Code})
}
