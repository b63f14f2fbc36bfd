package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var (
	errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
	errNotFound  = &apiError{code: "NotFound", msg: "not found"}
)

// bucket is an in-memory S3 stand-in. Listing returns at most pageSize keys
// per call and continues from the last key returned.
type bucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	lists    int

	getErr    error
	putErr    error
	deleteErr error
	headErr   error
	listErr   error
}

func newBucket() *bucket {
	return &bucket{objects: make(map[string][]byte), pageSize: 1000}
}

func (b *bucket) put(key, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = []byte(data)
}

func (b *bucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b *bucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if b.putErr != nil {
		return nil, b.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (b *bucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if b.deleteErr != nil {
		return nil, b.deleteErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (b *bucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if b.headErr != nil {
		return nil, b.headErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

func (b *bucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++

	prefix := aws.ToString(in.Prefix)
	after := aws.ToString(in.ContinuationToken)
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > b.pageSize {
		keys = keys[:b.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(b.objects[k]))),
		})
	}
	return out, nil
}

func newTestS3(t *testing.T, prefix string) (*S3Store, *bucket) {
	t.Helper()
	b := newBucket()
	return NewS3(b, "media", prefix), b
}

func collect(t *testing.T, seq func(func(File, error) bool)) []File {
	t.Helper()
	var files []File
	for f, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		files = append(files, f)
	}
	return files
}

func paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestS3List(t *testing.T) {
	s, b := newTestS3(t, "inbox/")
	b.put("inbox/2024/a.jpg", "aaaa")
	b.put("inbox/2024/", "")
	b.put("inbox/b.png", "bb")
	b.put("library/c.png", "c")

	files := collect(t, s.List(context.Background(), ""))
	if want := []string{"2024/a.jpg", "b.png"}; !slices.Equal(paths(files), want) {
		t.Fatalf("List = %v, want %v", paths(files), want)
	}
	if files[0].Size != 4 {
		t.Errorf("size = %d, want 4", files[0].Size)
	}

	files = collect(t, s.List(context.Background(), "2024/"))
	if want := []string{"2024/a.jpg"}; !slices.Equal(paths(files), want) {
		t.Fatalf("List(2024/) = %v, want %v", paths(files), want)
	}
}

func TestS3ListPaginates(t *testing.T) {
	s, b := newTestS3(t, "")
	b.pageSize = 2
	var want []string
	for i := range 5 {
		k := "img" + strconv.Itoa(i) + ".jpg"
		b.put(k, "x")
		want = append(want, k)
	}

	files := collect(t, s.List(context.Background(), ""))
	if !slices.Equal(paths(files), want) {
		t.Fatalf("List = %v, want %v", paths(files), want)
	}
	if b.lists != 3 {
		t.Errorf("ListObjectsV2 calls = %d, want 3", b.lists)
	}
}

func TestS3ListStopsEarly(t *testing.T) {
	s, b := newTestS3(t, "")
	b.pageSize = 1
	b.put("a", "1")
	b.put("b", "2")
	b.put("c", "3")

	for f, err := range s.List(context.Background(), "") {
		if err != nil {
			t.Fatal(err)
		}
		if f.Path != "a" {
			t.Fatalf("first = %q", f.Path)
		}
		break
	}
	if b.lists != 1 {
		t.Errorf("ListObjectsV2 calls = %d, want 1", b.lists)
	}
}

func TestS3ListError(t *testing.T) {
	s, b := newTestS3(t, "")
	b.listErr = errors.New("throttled")

	var got error
	for _, err := range s.List(context.Background(), "") {
		got = err
	}
	if got == nil || got.Error() != "throttled" {
		t.Fatalf("err = %v, want throttled", got)
	}
}

func TestS3WriteAndRead(t *testing.T) {
	s, b := newTestS3(t, "library")
	ctx := context.Background()

	w, err := s.Write(ctx, "d41d8cd9.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, "jpeg bytes"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	b.mu.Lock()
	_, ok := b.objects["library/d41d8cd9.jpg"]
	b.mu.Unlock()
	if !ok {
		t.Fatal("object not stored under library/ prefix")
	}

	r, err := s.Read(ctx, "d41d8cd9.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "jpeg bytes" {
		t.Fatalf("got %q", got)
	}
}

func TestS3Read(t *testing.T) {
	s, b := newTestS3(t, "")
	ctx := context.Background()

	if _, err := s.Read(ctx, "missing.png"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing: err = %v, want os.ErrNotExist", err)
	}

	b.getErr = errors.New("network timeout")
	_, err := s.Read(ctx, "x")
	if err == nil || errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want network timeout", err)
	}
}

func TestS3Exists(t *testing.T) {
	s, b := newTestS3(t, "")
	ctx := context.Background()

	ok, err := s.Exists(ctx, "a.png")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	b.put("a.png", "x")
	ok, err = s.Exists(ctx, "a.png")
	if err != nil || !ok {
		t.Fatalf("Exists(present) = %v, %v", ok, err)
	}

	b.headErr = errors.New("network failure")
	if _, err := s.Exists(ctx, "a.png"); err == nil {
		t.Fatal("expected error")
	}
}

func TestS3Delete(t *testing.T) {
	s, b := newTestS3(t, "")
	ctx := context.Background()

	if err := s.Delete(ctx, "ghost"); err != nil {
		t.Fatal(err)
	}
	b.put("tmp", "x")
	if err := s.Delete(ctx, "tmp"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, "tmp"); ok {
		t.Fatal("object still present after Delete")
	}

	b.deleteErr = errors.New("access denied")
	if err := s.Delete(ctx, "tmp"); err == nil {
		t.Fatal("expected error")
	}
}

func TestS3WriteUploadError(t *testing.T) {
	s, b := newTestS3(t, "")
	b.putErr = errors.New("upload failed")

	w, err := s.Write(context.Background(), "obj")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "data")
	if err := w.Close(); err == nil || err.Error() != "upload failed" {
		t.Fatalf("Close = %v, want upload failed", err)
	}
}

func TestS3KeyMapping(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		key    string
	}{
		{"", "a/b.jpg", "a/b.jpg"},
		{"inbox", "a.jpg", "inbox/a.jpg"},
		{"/inbox/", "a.jpg", "inbox/a.jpg"},
	}
	for _, tt := range tests {
		s := NewS3(newBucket(), "media", tt.prefix)
		if got := s.key(tt.path); got != tt.key {
			t.Errorf("key(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.key)
		}
		if got := s.rel(tt.key); got != tt.path {
			t.Errorf("rel(%q) with prefix %q = %q, want %q", tt.key, tt.prefix, got, tt.path)
		}
	}
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"NoSuchKey", errNoSuchKey, true},
		{"NotFound", errNotFound, true},
		{"other api error", &apiError{code: "AccessDenied", msg: "denied"}, false},
		{"plain error", errors.New("timeout"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isS3NotFound(tt.err); got != tt.want {
				t.Fatalf("isS3NotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewS3Client(t *testing.T) {
	c := NewS3Client(S3Config{
		Bucket:          "media",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		PathStyle:       true,
	})
	o := c.Options()
	if o.Region != "us-east-1" {
		t.Errorf("region = %q", o.Region)
	}
	if !o.UsePathStyle {
		t.Error("UsePathStyle not set")
	}
	if aws.ToString(o.BaseEndpoint) != "http://127.0.0.1:9000" {
		t.Errorf("endpoint = %q", aws.ToString(o.BaseEndpoint))
	}
	creds, err := o.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessKeyID != "minio" {
		t.Errorf("access key = %q", creds.AccessKeyID)
	}
}
