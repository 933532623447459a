package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ConsistentHashRing maps asset ids onto storage node addresses.
type ConsistentHashRing struct {
	replicas int
	hashes   []uint64          // sorted virtual node positions
	owners   map[uint64]string // position -> node address
	mu       sync.RWMutex
}

func NewConsistentHashRing(replicas int) *ConsistentHashRing {
	if replicas < 1 {
		replicas = 1
	}
	return &ConsistentHashRing{
		replicas: replicas,
		owners:   make(map[uint64]string),
	}
}

func hashKey(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

func (r *ConsistentHashRing) Add(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.replicas; i++ {
		h := hashKey(node + "#" + strconv.Itoa(i))
		if _, ok := r.owners[h]; ok {
			continue
		}
		r.owners[h] = node
		r.hashes = append(r.hashes, h)
	}
	sort.Slice(r.hashes, func(i, j int) bool { return r.hashes[i] < r.hashes[j] })
}

func (r *ConsistentHashRing) Remove(node string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.hashes[:0]
	removed := false
	for _, h := range r.hashes {
		if r.owners[h] == node {
			delete(r.owners, h)
			removed = true
			continue
		}
		kept = append(kept, h)
	}
	r.hashes = kept
	return removed
}

// NodeFor returns the first node clockwise from the key's position.
func (r *ConsistentHashRing) NodeFor(key string) (string, error) {
	h := hashKey(key)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.hashes) == 0 {
		return "", errors.New("no nodes in ring")
	}
	idx := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.owners[r.hashes[idx]], nil
}

// Nodes lists distinct node addresses in ring order.
func (r *ConsistentHashRing) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var nodes []string
	for _, h := range r.hashes {
		n := r.owners[h]
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// NWStore implements Store over a set of storage nodes. Each id lives on
// exactly one node, chosen by consistent hashing.
//
// Membership changes hold routing exclusively: Put, Get, List and Delete wait
// while assets move, so no write lands on a node being drained and no
// migration overwrites a newer write.
type NWStore struct {
	Ring *ConsistentHashRing

	dialOpts []grpc.DialOption
	maxSize  int
	routing  sync.RWMutex
	mu       sync.RWMutex // guards conns
	conns    map[string]*grpc.ClientConn
}

var _ Store = (*NWStore)(nil)

const ringReplicas = 64

// NewNWStore dials every node address. Extra dial options are appended to the
// defaults (insecure transport, raised message limits).
func NewNWStore(addrs []string, opts ...grpc.DialOption) (*NWStore, error) {
	if len(addrs) == 0 {
		return nil, errors.New("nw store: no node addresses")
	}
	s := &NWStore{
		Ring: NewConsistentHashRing(ringReplicas),
		dialOpts: append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(MaxMessageSize),
				grpc.MaxCallSendMsgSize(MaxMessageSize),
			),
		}, opts...),
		maxSize: MaxMessageSize,
		conns:   make(map[string]*grpc.ClientConn, len(addrs)),
	}
	for _, addr := range addrs {
		if err := s.dial(addr); err != nil {
			s.Close()
			return nil, err
		}
		s.Ring.Add(addr)
	}
	return s, nil
}

func (s *NWStore) dial(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[addr]; ok {
		return nil
	}
	conn, err := grpc.NewClient(addr, s.dialOpts...)
	if err != nil {
		return fmt.Errorf("dial node %s: %w", addr, err)
	}
	s.conns[addr] = conn
	return nil
}

func (s *NWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for addr, c := range s.conns {
		errs = append(errs, c.Close())
		delete(s.conns, addr)
	}
	return errors.Join(errs...)
}

func (s *NWStore) conn(addr string) (*grpc.ClientConn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[addr]
	if !ok {
		return nil, fmt.Errorf("node %s has no connection", addr)
	}
	return conn, nil
}

func (s *NWStore) ownerOf(id string) (string, error) {
	return s.Ring.NodeFor(id)
}

// Put buffers the content and sends it to the owning node in one call.
func (s *NWStore) Put(ctx context.Context, id string, r io.Reader) (Asset, error) {
	if err := ValidateID(id); err != nil {
		return Asset{}, err
	}
	data, err := io.ReadAll(io.LimitReader(&ctxReader{ctx: ctx, r: r}, int64(s.maxSize)+1))
	if err != nil {
		return Asset{}, &WriteError{ID: id, Op: "copy", Err: err}
	}
	if len(data) > s.maxSize {
		return Asset{}, &WriteError{ID: id, Op: "copy", Err: fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.maxSize)}
	}

	s.routing.RLock()
	defer s.routing.RUnlock()
	addr, err := s.ownerOf(id)
	if err != nil {
		return Asset{}, &WriteError{ID: id, Op: "route", Err: err}
	}
	return s.putTo(ctx, addr, id, data)
}

func (s *NWStore) putTo(ctx context.Context, addr, id string, data []byte) (Asset, error) {
	conn, err := s.conn(addr)
	if err != nil {
		return Asset{}, &WriteError{ID: id, Op: "route", Err: err}
	}
	ctx = metadata.AppendToOutgoingContext(ctx, mdAssetID, id)
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, fullMethod(serviceName, "Put"), wrapperspb.Bytes(data), out); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return Asset{}, fromStatus(id, err)
		}
		return Asset{}, &WriteError{ID: id, Op: "remote", Err: fromStatus(id, err)}
	}
	return structToAsset(out)
}

func (s *NWStore) Get(ctx context.Context, id string) ([]byte, Asset, error) {
	if err := ValidateID(id); err != nil {
		return nil, Asset{}, err
	}
	s.routing.RLock()
	defer s.routing.RUnlock()
	addr, err := s.ownerOf(id)
	if err != nil {
		return nil, Asset{}, err
	}
	return s.getFrom(ctx, addr, id)
}

func (s *NWStore) getFrom(ctx context.Context, addr, id string) ([]byte, Asset, error) {
	conn, err := s.conn(addr)
	if err != nil {
		return nil, Asset{}, err
	}
	var header metadata.MD
	out := new(wrapperspb.BytesValue)
	if err := conn.Invoke(ctx, fullMethod(serviceName, "Get"), wrapperspb.String(id), out, grpc.Header(&header)); err != nil {
		return nil, Asset{}, fromStatus(id, err)
	}
	a := Asset{ID: id, Size: int64(len(out.GetValue()))}
	if v := header.Get(mdAssetModTime); len(v) == 1 {
		a.ModTime, _ = time.Parse(time.RFC3339Nano, v[0])
	}
	return out.GetValue(), a, nil
}

// Open fetches the whole asset; the returned reader supports seeking.
func (s *NWStore) Open(ctx context.Context, id string) (io.ReadCloser, Asset, error) {
	data, a, err := s.Get(ctx, id)
	if err != nil {
		return nil, Asset{}, err
	}
	return &bytesReadCloser{bytes.NewReader(data)}, a, nil
}

func (s *NWStore) listNode(ctx context.Context, addr string) ([]Asset, error) {
	conn, err := s.conn(addr)
	if err != nil {
		return nil, err
	}
	out := new(structpb.ListValue)
	if err := conn.Invoke(ctx, fullMethod(serviceName, "List"), &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("list node %s: %w", addr, err)
	}
	assets := make([]Asset, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		a, err := structToAsset(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("list node %s: %w", addr, err)
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// List merges the listings of every node, newest first.
func (s *NWStore) List(ctx context.Context) ([]Asset, error) {
	s.routing.RLock()
	defer s.routing.RUnlock()
	byID := make(map[string]Asset)
	for _, addr := range s.Ring.Nodes() {
		list, err := s.listNode(ctx, addr)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			if prev, ok := byID[a.ID]; !ok || a.ModTime.After(prev.ModTime) {
				byID[a.ID] = a
			}
		}
	}
	assets := make([]Asset, 0, len(byID))
	for _, a := range byID {
		assets = append(assets, a)
	}
	sortNewestFirst(assets)
	return assets, nil
}

func (s *NWStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.routing.RLock()
	defer s.routing.RUnlock()
	addr, err := s.ownerOf(id)
	if err != nil {
		return err
	}
	return s.deleteFrom(ctx, addr, id)
}

func (s *NWStore) deleteFrom(ctx context.Context, addr, id string) error {
	conn, err := s.conn(addr)
	if err != nil {
		return err
	}
	if err := conn.Invoke(ctx, fullMethod(serviceName, "Delete"), wrapperspb.String(id), &emptypb.Empty{}); err != nil {
		return fromStatus(id, err)
	}
	return nil
}

// migrate moves one asset between nodes. The copy is committed on the
// destination before the source is removed, so the asset is never absent
// from both.
func (s *NWStore) migrate(ctx context.Context, id, from, to string) error {
	data, _, err := s.getFrom(ctx, from, id)
	if err != nil {
		return fmt.Errorf("read %s from %s: %w", id, from, err)
	}
	if _, err := s.putTo(ctx, to, id, data); err != nil {
		return fmt.Errorf("write %s to %s: %w", id, to, err)
	}
	if err := s.deleteFrom(ctx, from, id); err != nil && !errors.Is(err, ErrAssetNotFound) {
		return fmt.Errorf("delete %s from %s: %w", id, from, err)
	}
	return nil
}

// AddNode joins addr to the ring and moves every asset the new node now owns.
// It returns the number of migrated assets.
func (s *NWStore) AddNode(ctx context.Context, addr string) (int, error) {
	s.routing.Lock()
	defer s.routing.Unlock()
	existing := s.Ring.Nodes()
	if slices.Contains(existing, addr) {
		return 0, fmt.Errorf("node %s already in ring", addr)
	}
	if err := s.dial(addr); err != nil {
		return 0, err
	}
	s.Ring.Add(addr)

	moved := 0
	for _, from := range existing {
		assets, err := s.listNode(ctx, from)
		if err != nil {
			return moved, err
		}
		for _, a := range assets {
			owner, err := s.ownerOf(a.ID)
			if err != nil {
				return moved, err
			}
			if owner == from {
				continue
			}
			if err := s.migrate(ctx, a.ID, from, owner); err != nil {
				return moved, err
			}
			moved++
		}
	}
	return moved, nil
}

// RemoveNode drains addr onto the remaining nodes and drops it from the ring.
func (s *NWStore) RemoveNode(ctx context.Context, addr string) (int, error) {
	s.routing.Lock()
	defer s.routing.Unlock()
	if !s.Ring.Remove(addr) {
		return 0, fmt.Errorf("node %s not in ring", addr)
	}
	if len(s.Ring.Nodes()) == 0 {
		s.Ring.Add(addr)
		return 0, errors.New("cannot remove the last node")
	}
	assets, err := s.listNode(ctx, addr)
	if err != nil {
		s.Ring.Add(addr)
		return 0, err
	}

	moved := 0
	for _, a := range assets {
		owner, err := s.ownerOf(a.ID)
		if err != nil {
			return moved, err
		}
		if err := s.migrate(ctx, a.ID, addr, owner); err != nil {
			return moved, err
		}
		moved++
	}

	s.mu.Lock()
	if c, ok := s.conns[addr]; ok {
		c.Close()
		delete(s.conns, addr)
	}
	s.mu.Unlock()
	return moved, nil
}

type bytesReadCloser struct {
	*bytes.Reader
}

func (bytesReadCloser) Close() error { return nil }
