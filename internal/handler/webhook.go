package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/domain/payment"
)

// MercadoPagoWebhook receives processor notifications. Payment events update
// the referenced order; everything else is acknowledged. A processing failure
// answers 500 so that the processor delivers the event again.
func (h *Handler) MercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apiError{status: http.StatusBadRequest, code: "bad_request", message: "unreadable body", cause: err})
		return
	}

	n, err := decodeNotification(raw)
	if err != nil {
		lg.Warn("Malformed notification", zap.Error(err))
		writeAck(w, http.StatusOK, "ignored")
		return
	}
	// Query parameters take precedence: they are what the signature covers.
	q := r.URL.Query()
	if id := q.Get("data.id"); id != "" {
		n.DataID = id
	}
	if typ := q.Get("type"); typ != "" && n.Type == "" {
		n.Type = typ
	}

	if h.webhookSecret != nil {
		ok := VerifySignature(h.webhookSecret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), n.DataID)
		if !ok {
			writeError(w, r, apiError{status: http.StatusUnauthorized, code: "invalid_signature", message: "invalid signature"})
			return
		}
	}

	if err := h.payments.HandleNotification(r.Context(), n); err != nil {
		writeError(w, r, internal(errors.Wrap(err, "handle notification")))
		return
	}
	writeAck(w, http.StatusOK, "received")
}

func writeAck(w http.ResponseWriter, status int, s string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.FieldStart("status")
		e.Str(s)
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeNotification reads type, action and data.id. data.id may be a
// string or a number.
func decodeNotification(raw []byte) (payment.Notification, error) {
	var n payment.Notification
	if len(raw) == 0 {
		return n, nil
	}
	d := jx.DecodeBytes(raw)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "type", "topic":
			if d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			if n.Type == "" {
				n.Type = v
			}
			return nil
		case "action":
			if d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			n.Action = v
			return err
		case "data":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "id" {
					return d.Skip()
				}
				switch d.Next() {
				case jx.String:
					v, err := d.Str()
					n.DataID = v
					return err
				case jx.Number:
					v, err := d.Num()
					n.DataID = v.String()
					return err
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return n, errors.Wrap(err, "decode notification")
	}
	return n, nil
}

// VerifySignature checks a Mercado Pago x-signature header of the form
// "ts=<unix>,v1=<hex hmac>". The signed manifest is
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" with absent parts
// omitted. Alphanumeric data IDs are lowercased.
func VerifySignature(secret []byte, header, requestID, dataID string) bool {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return false
	}
	want, err := hex.DecodeString(v1)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signatureManifest(dataID, requestID, ts)))
	return subtle.ConstantTimeCompare(mac.Sum(nil), want) == 1
}

func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}
