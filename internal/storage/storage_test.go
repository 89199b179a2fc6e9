package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"securedocs/internal/config"
)

func minioCfg(endpoint, access, secret, bucket string) config.MinIOConfig {
	return config.MinIOConfig{Endpoint: endpoint, AccessKey: access, SecretKey: secret, Bucket: bucket}
}

func TestValidateMinIOConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MinIOConfig
		wantErr []string
	}{
		{"complete", minioCfg("localhost:9000", "ak", "sk", "docs"), nil},
		{"missing endpoint", minioCfg("", "ak", "sk", "docs"), []string{"endpoint"}},
		{"missing secret", minioCfg("localhost:9000", "ak", "", "docs"), []string{"credentials"}},
		{"missing everything", config.MinIOConfig{}, []string{"endpoint", "credentials", "bucket"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMinIOConfig(tt.cfg)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			for _, want := range tt.wantErr {
				assert.ErrorContains(t, err, want)
			}
		})
	}
}

func TestNewMinIO_InvalidConfig(t *testing.T) {
	s, err := NewMinIO(minioCfg("", "", "", ""))
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestTranslateErr(t *testing.T) {
	assert.NoError(t, translateErr(nil, "k"))

	err := translateErr(minio.ErrorResponse{Code: "NoSuchKey"}, "protected/a.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorContains(t, err, "protected/a.pdf")

	assert.ErrorIs(t, translateErr(minio.ErrorResponse{Code: "NoSuchBucket"}, "k"), ErrObjectNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, translateErr(other, "k"))

	denied := minio.ErrorResponse{Code: "AccessDenied"}
	assert.NotErrorIs(t, translateErr(denied, "k"), ErrObjectNotFound)
}
