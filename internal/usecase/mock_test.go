package usecase

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/hls"
	"github.com/hszk-dev/vidmaint/internal/keys"
	"github.com/hszk-dev/vidmaint/internal/transcoder"
)

const (
	testCDN    = "https://cdn.example.com"
	testSigned = "https://signed.example.com"
)

// fakeObject is one object held by fakeStorage.
type fakeObject struct {
	data        []byte
	contentType string
	meta        map[string]string
	acl         string
}

// fakeStorage is an in-memory ObjectStorage.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]*fakeObject

	// ignoreMetadataReplace simulates stores that keep old metadata on copy.
	ignoreMetadataReplace bool

	headErr   error
	copyErr   error
	deleteErr error
	aclErr    error

	writes  []string
	copies  []string
	deletes []string
	aclPuts []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]*fakeObject)}
}

// seed stores an object with ACL public-read.
func (s *fakeStorage) seed(key string, data []byte, contentType string, meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &fakeObject{data: data, contentType: contentType, meta: meta, acl: model.ACLPublicRead}
}

func (s *fakeStorage) object(key string) *fakeObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key]
}

func (s *fakeStorage) text(key string) string {
	if obj := s.object(key); obj != nil {
		return string(obj.data)
	}
	return ""
}

func (s *fakeStorage) wrote(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.writes {
		if k == key {
			return true
		}
	}
	return false
}

func (s *fakeStorage) PublicURL(key string) string {
	return keys.JoinURL(testCDN, keys.EncodeSoft(key))
}

func (s *fakeStorage) KeyFromURLOrKey(input string) (string, error) {
	if rest, ok := strings.CutPrefix(input, testCDN+"/"); ok {
		return url.PathUnescape(rest)
	}
	if hls.IsAbsoluteURL(input) {
		return "", fmt.Errorf("url %q does not belong to the bucket hosts", input)
	}
	key := strings.TrimLeft(strings.TrimSpace(input), "/")
	if key == "" {
		return "", fmt.Errorf("empty video reference")
	}
	return key, nil
}

func (s *fakeStorage) Head(ctx context.Context, key string) (*model.ObjectHead, error) {
	if s.headErr != nil {
		return nil, s.headErr
	}
	obj := s.object(key)
	if obj == nil {
		return nil, nil
	}
	meta := make(map[string]string, len(obj.meta))
	for k, v := range obj.meta {
		meta[k] = v
	}
	return &model.ObjectHead{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		UserMetadata: meta,
	}, nil
}

func (s *fakeStorage) GetText(ctx context.Context, key string) (string, error) {
	obj := s.object(key)
	if obj == nil {
		return "", fmt.Errorf("get %s: %w", key, repository.ErrObjectNotFound)
	}
	return string(obj.data), nil
}

func (s *fakeStorage) ReadHead(ctx context.Context, key string, n int64) ([]byte, error) {
	obj := s.object(key)
	if obj == nil {
		return nil, fmt.Errorf("read %s: %w", key, repository.ErrObjectNotFound)
	}
	if int64(len(obj.data)) > n {
		return obj.data[:n], nil
	}
	return obj.data, nil
}

func (s *fakeStorage) PutText(ctx context.Context, key, body, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &fakeObject{data: []byte(body), contentType: contentType, acl: model.ACLPublicRead}
	s.writes = append(s.writes, key)
	return nil
}

func (s *fakeStorage) UploadFile(ctx context.Context, key, path string, opts repository.PutOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &fakeObject{data: data, contentType: opts.ContentType, meta: opts.UserMetadata, acl: opts.ACL}
	s.writes = append(s.writes, key)
	return nil
}

func (s *fakeStorage) DownloadFile(ctx context.Context, key, path string) error {
	obj := s.object(key)
	if obj == nil {
		return fmt.Errorf("download %s: %w", key, repository.ErrObjectNotFound)
	}
	return os.WriteFile(path, obj.data, 0644)
}

func (s *fakeStorage) Copy(ctx context.Context, src, dst string, opts repository.PutOptions) error {
	if s.copyErr != nil {
		return s.copyErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[src]
	if !ok {
		return fmt.Errorf("copy %s: %w", src, repository.ErrObjectNotFound)
	}
	meta := opts.UserMetadata
	if s.ignoreMetadataReplace {
		meta = obj.meta
	}
	s.objects[dst] = &fakeObject{data: obj.data, contentType: opts.ContentType, meta: meta, acl: opts.ACL}
	s.copies = append(s.copies, src+"->"+dst)
	return nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deletes = append(s.deletes, key)
	return nil
}

func (s *fakeStorage) IsPublicRead(ctx context.Context, key string) (bool, error) {
	if s.aclErr != nil {
		return false, s.aclErr
	}
	obj := s.object(key)
	if obj == nil {
		return false, fmt.Errorf("acl %s: %w", key, repository.ErrObjectNotFound)
	}
	return obj.acl == model.ACLPublicRead, nil
}

func (s *fakeStorage) PutACL(ctx context.Context, key, canned string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("acl %s: %w", key, repository.ErrObjectNotFound)
	}
	obj.acl = canned
	s.aclPuts = append(s.aclPuts, key)
	return nil
}

func (s *fakeStorage) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return keys.JoinURL(testSigned, keys.EncodeSoft(key)), nil
}

// List pages through keys in lexical order. Tokens are start offsets.
func (s *fakeStorage) List(ctx context.Context, prefix, token string, pageSize int) (*repository.ListPage, error) {
	s.mu.Lock()
	all := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			all = append(all, k)
		}
	}
	s.mu.Unlock()
	sort.Strings(all)

	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("bad token %q", token)
		}
		start = n
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	page := &repository.ListPage{}
	for _, k := range all[start:end] {
		page.Objects = append(page.Objects, repository.ObjectInfo{Key: k})
	}
	if end < len(all) {
		page.IsTruncated = true
		page.NextContinuationToken = strconv.Itoa(end)
	}
	return page, nil
}

// fakeCoordinator is an in-memory Coordinator.
type fakeCoordinator struct {
	mu       sync.Mutex
	locks    map[string]bool
	cursor   string
	audit    []*model.Result
	progress map[string]repository.RunProgress
	saves    []repository.RunProgress

	// heldAtAudit records whether the audited key was still locked.
	heldAtAudit []bool

	auditErr  error
	cursorErr error
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		locks:    make(map[string]bool),
		progress: make(map[string]repository.RunProgress),
	}
}

type fakeLock struct {
	c   *fakeCoordinator
	key string
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	delete(l.c.locks, l.key)
	return nil
}

func (c *fakeCoordinator) AcquireLock(ctx context.Context, key string, ttl time.Duration) (repository.Lock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] {
		return nil, repository.ErrLockHeld
	}
	c.locks[key] = true
	return &fakeLock{c: c, key: key}, nil
}

func (c *fakeCoordinator) held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[key]
}

func (c *fakeCoordinator) ScanCursor(ctx context.Context) (string, error) {
	if c.cursorErr != nil {
		return "", c.cursorErr
	}
	return c.cursor, nil
}

func (c *fakeCoordinator) SetScanCursor(ctx context.Context, token string) error {
	c.cursor = token
	return nil
}

func (c *fakeCoordinator) ClearScanCursor(ctx context.Context) error {
	c.cursor = ""
	return nil
}

func (c *fakeCoordinator) AppendAudit(ctx context.Context, result *model.Result) error {
	if c.auditErr != nil {
		return c.auditErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heldAtAudit = append(c.heldAtAudit, c.locks[result.OldKey])
	c.audit = append([]*model.Result{result}, c.audit...)
	return nil
}

func (c *fakeCoordinator) RecentAudit(ctx context.Context, limit int) ([]*model.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.audit) {
		limit = len(c.audit)
	}
	return c.audit[:limit], nil
}

func (c *fakeCoordinator) SaveProgress(ctx context.Context, progress *repository.RunProgress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := *progress
	snap.Results = append([]*model.Result(nil), progress.Results...)
	c.progress[progress.RunID] = snap
	c.saves = append(c.saves, snap)
	return nil
}

func (c *fakeCoordinator) Progress(ctx context.Context, runID string) (*repository.RunProgress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.progress[runID]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	return &p, nil
}

// mockProber provides a configurable mock for transcoder.Prober.
// By default every input probes as a target-compatible file with audio.
type mockProber struct {
	probeFn func(ctx context.Context, input string) (*model.ProbeInfo, error)

	mu     sync.Mutex
	inputs []string
}

func (m *mockProber) Probe(ctx context.Context, input string) (*model.ProbeInfo, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()
	if m.probeFn != nil {
		return m.probeFn(ctx, input)
	}
	return compatibleProbe(), nil
}

func compatibleProbe() *model.ProbeInfo {
	moovFirst := true
	return &model.ProbeInfo{
		VideoCodec:     "h264",
		PixelFormat:    "yuv420p",
		AudioCodec:     "aac",
		HasVideo:       true,
		HasAudio:       true,
		MoovBeforeMdat: &moovFirst,
	}
}

// mockTranscoder provides a configurable mock for transcoder.Transcoder.
// Default implementations write placeholder outputs.
type mockTranscoder struct {
	remuxFn    func(ctx context.Context, in, out string) error
	audioFn    func(ctx context.Context, in, out string) error
	fullFn     func(ctx context.Context, in, out string) error
	buildHLSFn func(ctx context.Context, input, outDir string, opts transcoder.HLSOptions) (*transcoder.HLSOutput, error)

	calls   []string
	hlsOpts []transcoder.HLSOptions
}

func (m *mockTranscoder) RemuxFaststart(ctx context.Context, in, out string) error {
	m.calls = append(m.calls, "remux")
	if m.remuxFn != nil {
		return m.remuxFn(ctx, in, out)
	}
	return os.WriteFile(out, []byte("remuxed"), 0644)
}

func (m *mockTranscoder) ReencodeAudio(ctx context.Context, in, out string) error {
	m.calls = append(m.calls, "audio")
	if m.audioFn != nil {
		return m.audioFn(ctx, in, out)
	}
	return os.WriteFile(out, []byte("audio-fixed"), 0644)
}

func (m *mockTranscoder) FullTranscode(ctx context.Context, in, out string) error {
	m.calls = append(m.calls, "full")
	if m.fullFn != nil {
		return m.fullFn(ctx, in, out)
	}
	return os.WriteFile(out, []byte("transcoded"), 0644)
}

func (m *mockTranscoder) BuildHLS(ctx context.Context, input, outDir string, opts transcoder.HLSOptions) (*transcoder.HLSOutput, error) {
	m.calls = append(m.calls, "hls")
	m.hlsOpts = append(m.hlsOpts, opts)
	if m.buildHLSFn != nil {
		return m.buildHLSFn(ctx, input, outDir, opts)
	}
	return writeHLSOutput(outDir, 3)
}

// writeHLSOutput writes a bundle of n 1 KiB segments into dir.
func writeHLSOutput(dir string, n int) (*transcoder.HLSOutput, error) {
	var files []string
	var variant strings.Builder
	variant.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("seg_%03d.ts", i)
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, make([]byte, 1024), 0644); err != nil {
			return nil, err
		}
		files = append(files, p)
		variant.WriteString("#EXTINF:8.0,\n" + name + "\n")
	}
	variant.WriteString("#EXT-X-ENDLIST\n")

	variantPath := filepath.Join(dir, hls.VariantName)
	if err := os.WriteFile(variantPath, []byte(variant.String()), 0644); err != nil {
		return nil, err
	}
	masterPath := filepath.Join(dir, hls.MasterName)
	if err := os.WriteFile(masterPath, []byte(hls.BuildMaster(hls.VariantName, 0, 3)), 0644); err != nil {
		return nil, err
	}
	return &transcoder.HLSOutput{
		MasterPath: masterPath,
		Files:      append(files, variantPath, masterPath),
	}, nil
}

// mockRewriter provides a configurable mock for repository.ReferenceRewriter.
type mockRewriter struct {
	rewriteFn func(ctx context.Context, oldKey, newKey string, dryRun bool) (*model.RewriteResult, error)

	calls []string
}

func (m *mockRewriter) Rewrite(ctx context.Context, oldKey, newKey string, dryRun bool) (*model.RewriteResult, error) {
	m.calls = append(m.calls, fmt.Sprintf("%s->%s dry=%t", oldKey, newKey, dryRun))
	if m.rewriteFn != nil {
		return m.rewriteFn(ctx, oldKey, newKey, dryRun)
	}
	if dryRun {
		return &model.RewriteResult{WouldTouch: map[string]int64{"lessons.body": 1}}, nil
	}
	return &model.RewriteResult{Updated: 1, Columns: map[string]int64{"lessons.body": 1}}, nil
}

// mockMessageQueue provides a configurable mock for MessageQueue.
type mockMessageQueue struct {
	publishTaskFn func(ctx context.Context, task repository.MaintenanceTask) error

	published []repository.MaintenanceTask
}

func (m *mockMessageQueue) PublishTask(ctx context.Context, task repository.MaintenanceTask) error {
	if m.publishTaskFn != nil {
		if err := m.publishTaskFn(ctx, task); err != nil {
			return err
		}
	}
	m.published = append(m.published, task)
	return nil
}

func (m *mockMessageQueue) ConsumeTasks(ctx context.Context, handler func(task repository.MaintenanceTask) error) error {
	return nil
}

func (m *mockMessageQueue) Close() error {
	return nil
}

// mockVideoProcessor provides a configurable mock for VideoProcessor.
type mockVideoProcessor struct {
	processFn func(ctx context.Context, req ProcessRequest) *model.Result

	requests []ProcessRequest
}

func (m *mockVideoProcessor) Process(ctx context.Context, req ProcessRequest) *model.Result {
	m.requests = append(m.requests, req)
	if m.processFn != nil {
		return m.processFn(ctx, req)
	}
	return &model.Result{Status: model.StatusOK, OldKey: req.Key}
}

// seedBundle stores a healthy canonical bundle for sourceKey with n
// segments, and a legacy alias pointing at it.
func seedBundle(s *fakeStorage, sourceKey string, n int) hls.Bundle {
	b := hls.PlanBundle(sourceKey)
	s.seed(b.CanonicalMaster(), []byte(hls.BuildMaster(hls.VariantName, 0, 3)), model.ContentTypePlaylist, nil)

	var variant strings.Builder
	variant.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("seg_%03d.ts", i)
		s.seed(b.CanonicalPrefix+name, make([]byte, 1024), model.ContentTypeTSSegment, nil)
		variant.WriteString("#EXTINF:8.0,\n" + name + "\n")
	}
	variant.WriteString("#EXT-X-ENDLIST\n")
	s.seed(b.CanonicalPrefix+hls.VariantName, []byte(variant.String()), model.ContentTypePlaylist, nil)

	alias := hls.BuildAlias(s.PublicURL(b.CanonicalMaster()))
	s.seed(b.LegacyMaster(), []byte(alias), model.ContentTypePlaylist, nil)
	return b
}

// seedSource stores an MP4 source video with faststart metadata.
func seedSource(s *fakeStorage, key string) {
	s.seed(key, []byte("mp4-source"), model.ContentTypeMP4, map[string]string{model.MetaFaststart: "true"})
}

func testHLSConfig() HLSRepairerConfig {
	return HLSRepairerConfig{
		SegmentHeadLimit:    30,
		MinSegmentSizeBytes: 512,
		FixACLPublicRead:    true,
		FixACLMaxFiles:      50,
		RequireAudioCheck:   true,
	}
}

type testPipeline struct {
	storage  *fakeStorage
	coord    *fakeCoordinator
	prober   *mockProber
	tc       *mockTranscoder
	rewriter *mockRewriter
	orch     *Orchestrator
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	p := &testPipeline{
		storage:  newFakeStorage(),
		coord:    newFakeCoordinator(),
		prober:   &mockProber{},
		tc:       &mockTranscoder{},
		rewriter: &mockRewriter{},
	}
	fixer := NewMP4Fixer(p.storage, p.prober, p.tc, MP4FixerConfig{})
	repairer := NewHLSRepairer(p.storage, p.prober, p.tc, testHLSConfig())
	p.orch = NewOrchestrator(p.storage, p.coord, p.rewriter, fixer, repairer, OrchestratorConfig{
		LockTTL: time.Minute,
		TempDir: t.TempDir(),
	})
	return p
}
