package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []*s3.PutObjectInput
	objects  map[string][]byte
	getErr   error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, input)
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func fixedStore(mock S3API, kmsKey string) *Store {
	s := NewStore(mock, "phi-archive", kmsKey, logging.Discard())
	s.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }
	return s
}

func sampleRecord() *TranscriptRecord {
	return &TranscriptRecord{
		OrgID:      "org-1",
		SessionID:  uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		NoteID:     uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		AuthorID:   uuid.New(),
		Model:      "gemini-2.5-flash",
		Redacted:   true,
		Transcript: "Client reports better sleep. Contact [EMAIL].",
		SOAP:       SOAPSection{Subjective: "Better sleep", Plan: "Continue CBT-I"},
	}
}

func TestStore_ArchiveTranscript(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock, "")

	key, err := store.ArchiveTranscript(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, "transcripts/v1/org-1/2026/03/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.json", key)

	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "phi-archive", *mock.putCalls[0].Bucket)
	assert.Equal(t, s3types.ServerSideEncryptionAes256, mock.putCalls[0].ServerSideEncryption)

	got, err := store.FetchTranscript(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "1.0", got.Version)
	assert.Equal(t, "Continue CBT-I", got.SOAP.Plan)
	assert.True(t, got.Redacted)

	manifest := string(mock.objects["transcripts/v1/manifests/2026-03.jsonl"])
	assert.Contains(t, manifest, key)
	assert.Equal(t, 1, strings.Count(manifest, "\n"))
}

func TestStore_KMSEncryption(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock, "alias/phi")

	_, err := store.ArchiveTranscript(context.Background(), sampleRecord())
	require.NoError(t, err)
	for _, call := range mock.putCalls {
		assert.Equal(t, s3types.ServerSideEncryptionAwsKms, call.ServerSideEncryption)
		assert.Equal(t, "alias/phi", *call.SSEKMSKeyId)
	}
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", "", nil)
	assert.False(t, store.Enabled())

	key, err := store.ArchiveTranscript(context.Background(), sampleRecord())
	assert.NoError(t, err)
	assert.Empty(t, key)

	_, err = store.FetchTranscript(context.Background(), "anything")
	assert.Error(t, err)
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := fixedStore(mock, "")

	for i := 0; i < 3; i++ {
		rec := sampleRecord()
		rec.NoteID = uuid.New()
		_, err := store.ArchiveTranscript(context.Background(), rec)
		require.NoError(t, err)
	}

	manifest := string(mock.objects["transcripts/v1/manifests/2026-03.jsonl"])
	assert.Equal(t, 3, strings.Count(manifest, "\n"))
}

func TestStore_ManifestReadFailureDoesNotFailArchive(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("throttled")
	store := fixedStore(mock, "")

	key, err := store.ArchiveTranscript(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.Len(t, mock.putCalls, 1)
}

func TestTranscriptKeyWithoutOrg(t *testing.T) {
	rec := sampleRecord()
	rec.OrgID = ""
	rec.ArchivedAt = time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)
	assert.True(t, strings.HasPrefix(TranscriptKey(rec), "transcripts/v1/_/2026/11/"))
}
