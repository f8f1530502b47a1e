package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	const (
		secret    = "whsec"
		dataID    = "2C938084"
		requestID = "bb56a2f1-6aae-46ac-982e-9dcd3581d08e"
		ts        = "1704908010"
	)
	valid := SignatureHeaderValue(secret, dataID, requestID, ts)

	tests := []struct {
		name      string
		header    string
		requestID string
		dataID    string
		wantErr   error
	}{
		{name: "valid", header: valid, requestID: requestID, dataID: dataID},
		{name: "valid with spaces", header: " ts=" + ts + " , v1=" + ComputeSignature(secret, dataID, requestID, ts), requestID: requestID, dataID: dataID},
		{name: "data id case does not matter", header: valid, requestID: requestID, dataID: "2c938084"},
		{name: "tampered data id", header: valid, requestID: requestID, dataID: "999", wantErr: ErrInvalidSignature},
		{name: "tampered request id", header: valid, requestID: "other", dataID: dataID, wantErr: ErrInvalidSignature},
		{name: "wrong secret", header: SignatureHeaderValue("nope", dataID, requestID, ts), requestID: requestID, dataID: dataID, wantErr: ErrInvalidSignature},
		{name: "missing header", header: "", requestID: requestID, dataID: dataID, wantErr: ErrMissingSignature},
		{name: "missing v1", header: "ts=" + ts, requestID: requestID, dataID: dataID, wantErr: ErrMissingSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(secret, tt.header, tt.requestID, tt.dataID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSignatureManifest_OmitsEmptyParts(t *testing.T) {
	assert.Equal(t, "id:abc;request-id:r1;ts:1;", signatureManifest("ABC", "r1", "1"))
	assert.Equal(t, "id:abc;ts:1;", signatureManifest("abc", "", "1"))
}
