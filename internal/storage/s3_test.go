package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemS3() *memS3 { return &memS3{objects: make(map[string][]byte)} }

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (m *memS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range in.Delete.Objects {
		delete(m.objects, *o.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestRunOutputs(t *testing.T) {
	ctx := context.Background()
	s := New(newMemS3(), "bucket")

	files := map[string][]byte{"answers.json": []byte(`[]`), "scores.json": []byte(`{"TOTAL":0}`)}
	if err := s.WriteRunOutputs(ctx, "abc", files); err != nil {
		t.Fatalf("WriteRunOutputs() error = %v", err)
	}
	got, err := s.ReadRunOutput(ctx, "abc", "scores.json")
	if err != nil {
		t.Fatalf("ReadRunOutput() error = %v", err)
	}
	if string(got) != `{"TOTAL":0}` {
		t.Fatalf("ReadRunOutput() got = %s, want %s", got, `{"TOTAL":0}`)
	}
	if _, err := s.ReadRunOutput(ctx, "abc", "gaps.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadRunOutput() error got = %v, want %v", err, ErrNotFound)
	}

	keys, err := s.List(ctx, "runs/abc/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"runs/abc/answers.json", "runs/abc/scores.json"}; !slices.Equal(keys, want) {
		t.Fatalf("List() got = %v, want %v", keys, want)
	}
}

func TestDeleteRunKeepsOtherRuns(t *testing.T) {
	ctx := context.Background()
	s := New(newMemS3(), "bucket")
	_ = s.WriteRunOutputs(ctx, "abc", map[string][]byte{"answers.json": []byte(`[]`)})
	_ = s.WriteRunOutputs(ctx, "abcd", map[string][]byte{"answers.json": []byte(`[]`)})

	if err := s.DeleteRun(ctx, "abc"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := s.ReadRunOutput(ctx, "abc", "answers.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadRunOutput() after delete error got = %v, want %v", err, ErrNotFound)
	}
	if _, err := s.ReadRunOutput(ctx, "abcd", "answers.json"); err != nil {
		t.Fatalf("ReadRunOutput() other run error = %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	ctx := context.Background()
	s := New(newMemS3(), "bucket")

	if err := s.WriteStatus(ctx, RunStatus{RunID: "abc", State: RunFailed, Error: "boom"}); err != nil {
		t.Fatalf("WriteStatus() error = %v", err)
	}
	st, err := s.ReadStatus(ctx, "abc")
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if st.State != RunFailed || st.Error != "boom" || st.UpdatedAt.IsZero() {
		t.Fatalf("ReadStatus() got = %+v", st)
	}
}
