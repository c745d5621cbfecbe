// Package storage implements the optional artifact archive. When a bucket is
// configured, finished conversion outputs are copied to S3 under the request
// ID before the temp scope releases them. Archival is best-effort: a failed
// upload is logged and never affects the client response.
package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize       = 16
	nonceSize      = 12
	pbkdf2Rounds   = 100000
	pbkdf2KeyBytes = 32
)

// Archive copies conversion artifacts to S3, optionally encrypted with a
// passphrase. A nil *Archive is valid and stores nothing.
type Archive struct {
	client     *s3.Client
	bucket     string
	prefix     string
	passphrase string
}

// NewArchive returns nil when no bucket is configured.
func NewArchive(ctx context.Context, bucket, prefix, passphrase string) (*Archive, error) {
	if bucket == "" {
		return nil, nil
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Archive{
		client:     s3.NewFromConfig(cfg),
		bucket:     bucket,
		prefix:     prefix,
		passphrase: passphrase,
	}, nil
}

// Store uploads one artifact under <prefix>/<requestID>/<name>. Errors are
// logged and swallowed; the conversion result has already been produced and
// the client should receive it regardless.
func (a *Archive) Store(ctx context.Context, requestID, name, contentType string, data []byte) {
	if a == nil {
		return
	}
	body := data
	if a.passphrase != "" {
		enc, err := a.encrypt(data)
		if err != nil {
			log.Error().Err(err).Str("request_id", requestID).Msg("archive encryption failed, skipping upload")
			return
		}
		body = enc
		contentType = "application/octet-stream"
	}

	key := path.Join(a.prefix, requestID, name)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"name":      name,
			"encrypted": fmt.Sprintf("%t", a.passphrase != ""),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", a.bucket).Str("key", key).Msg("artifact archive upload failed")
		return
	}
	log.Info().Str("key", key).Int("size", len(body)).Msg("artifact archived")
}

// encrypt seals data with AES-256-GCM under a PBKDF2-derived key.
// Output layout: salt(16) | nonce(12) | ciphertext.
func (a *Archive) encrypt(data []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(a.passphrase), salt, pbkdf2Rounds, pbkdf2KeyBytes, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+nonceSize+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, data, nil)
	return out, nil
}

// Decrypt reverses encrypt for the given passphrase. Exposed for operators
// pulling archived artifacts back out of the bucket.
func Decrypt(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltSize+nonceSize {
		return nil, fmt.Errorf("encrypted payload too short")
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, pbkdf2KeyBytes, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plain, nil
}
