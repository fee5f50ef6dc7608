package streamstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves objects from memory, two keys per listing page.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	keys    []string
	objects map[string][]byte
	failGet map[string]bool
	gets    []string
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	var matching []*s3.Object
	for _, k := range f.keys {
		if len(k) >= len(aws.StringValue(in.Prefix)) && k[:len(aws.StringValue(in.Prefix))] == aws.StringValue(in.Prefix) {
			matching = append(matching, &s3.Object{Key: aws.String(k)})
		}
	}
	for i := 0; i < len(matching); i += 2 {
		end := min(i+2, len(matching))
		last := end == len(matching)
		if !fn(&s3.ListObjectsV2Output{Contents: matching[i:end]}, last) {
			break
		}
	}
	return nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := aws.StringValue(in.Key)
	f.mu.Lock()
	f.gets = append(f.gets, key)
	f.mu.Unlock()
	if f.failGet[key] {
		return nil, errors.New("access denied")
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func newFake() *fakeS3 {
	f := &fakeS3{
		keys: []string{
			"art/",
			"art/a.h265",
			"art/notes.txt",
			"art/b.hevc",
			"art/c.264",
			"other/d.h265",
		},
		objects: map[string][]byte{
			"art/a.h265":   {0, 0, 0, 1, 0x40},
			"art/b.hevc":   {0, 0, 0, 1, 0x42},
			"art/c.264":    {0, 0, 0, 1, 0x67},
			"other/d.h265": {1},
		},
		failGet: map[string]bool{},
	}
	return f
}

var art = Collection{Title: "Art", Bucket: "frames", Prefix: "art/"}

func TestIsStream(t *testing.T) {
	assert.True(t, IsStream("clip.h265"))
	assert.True(t, IsStream("CLIP.HEVC"))
	assert.True(t, IsStream("dir/x.264"))
	assert.False(t, IsStream("clip.mp4"))
	assert.False(t, IsStream("clip.h265.part-123"))
}

func TestListAndResolve(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.h265", "a.hevc", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{1}, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.h265"), 0o755))

	streams, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.hevc"), filepath.Join(dir, "b.h265")}, streams)

	path, err := Resolve("", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.hevc"), path)

	explicit := filepath.Join(dir, "b.h265")
	path, err = Resolve(explicit, "/nonexistent")
	require.NoError(t, err)
	assert.Equal(t, explicit, path)

	_, err = Resolve(filepath.Join(dir, "missing.h265"), dir)
	assert.Error(t, err)

	_, err = Resolve("", t.TempDir())
	assert.ErrorIs(t, err, ErrNoStreams)
}

func TestOpener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.h265")
	require.NoError(t, os.WriteFile(path, []byte("annexb"), 0o644))

	rc, err := Opener(path)()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "annexb", string(data))

	_, err = Opener(path + ".missing")()
	assert.Error(t, err)
}

func TestKeysFiltersDirectoriesAndExtensions(t *testing.T) {
	f := NewFetcher(newFake(), t.TempDir())
	keys, err := f.Keys(context.Background(), art)
	require.NoError(t, err)
	assert.Equal(t, []string{"art/a.h265", "art/b.hevc", "art/c.264"}, keys)
}

func TestFetchAll(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(newFake(), dir)

	paths, err := f.FetchAll(context.Background(), art)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.h265"),
		filepath.Join(dir, "b.hevc"),
		filepath.Join(dir, "c.264"),
	}, paths)

	data, err := os.ReadFile(filepath.Join(dir, "b.hevc"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x42}, data)

	local, err := List(dir)
	require.NoError(t, err)
	assert.Len(t, local, 3)
}

func TestFetchSkipsFailedObjects(t *testing.T) {
	fake := newFake()
	fake.failGet["art/b.hevc"] = true
	dir := t.TempDir()

	paths, err := NewFetcher(fake, dir).FetchAll(context.Background(), art)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.h265"), filepath.Join(dir, "c.264")}, paths)
}

func TestFetchSegment(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(newFake(), dir)
	ctx := context.Background()

	paths, end, err := f.FetchSegment(ctx, art, 0, 2)
	require.NoError(t, err)
	assert.False(t, end)
	assert.Equal(t, []string{filepath.Join(dir, "a.h265"), filepath.Join(dir, "b.hevc")}, paths)

	paths, end, err = f.FetchSegment(ctx, art, 2, 5)
	require.NoError(t, err)
	assert.True(t, end)
	assert.Equal(t, []string{filepath.Join(dir, "c.264")}, paths)

	paths, end, err = f.FetchSegment(ctx, art, 0, 0)
	assert.NoError(t, err)
	assert.False(t, end)
	assert.Nil(t, paths)

	_, end, err = f.FetchSegment(ctx, art, 9, 1)
	assert.Error(t, err)
	assert.True(t, end)
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFetcher(newFake(), t.TempDir()).FetchAll(ctx, art)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewS3ClientNeedsRegion(t *testing.T) {
	_, err := NewS3Client("")
	assert.Error(t, err)

	client, err := NewS3Client("eu-west-1")
	require.NoError(t, err)
	assert.NotNil(t, client)
}
