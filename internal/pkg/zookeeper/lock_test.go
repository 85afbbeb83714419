package zookeeper

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn 是一个只保存节点树的 Conn，足够驱动锁的创建、排队和删除。
type memConn struct {
	mu    sync.Mutex
	nodes map[string]bool
	seq   int
}

func newMemConn() *memConn {
	return &memConn{nodes: map[string]bool{"/": true}}
}

func (c *memConn) has(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[p]
}

func (c *memConn) children(p string) []string {
	var out []string
	for n := range c.nodes {
		if n != "/" && path.Dir(n) == p {
			out = append(out, path.Base(n))
		}
	}
	return out
}

func (c *memConn) Exists(p string) (bool, *zk.Stat, error) {
	return c.has(p), nil, nil
}

func (c *memConn) ExistsW(p string) (bool, *zk.Stat, <-chan zk.Event, error) {
	return c.has(p), nil, make(chan zk.Event), nil
}

func (c *memConn) Create(p string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[p] {
		return "", zk.ErrNodeExists
	}
	if !c.nodes[path.Dir(p)] {
		return "", zk.ErrNoNode
	}
	c.nodes[p] = true
	return p, nil
}

func (c *memConn) CreateProtectedEphemeralSequential(p string, _ []byte, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parent := path.Dir(p)
	if !c.nodes[parent] {
		return "", zk.ErrNoNode
	}
	c.seq++
	node := fmt.Sprintf("%s/_c_0123456789abcdef-%s%010d", parent, path.Base(p), c.seq)
	c.nodes[node] = true
	return node, nil
}

func (c *memConn) Children(p string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.nodes[p] {
		return nil, nil, zk.ErrNoNode
	}
	return c.children(p), nil, nil
}

func (c *memConn) Delete(p string, _ int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.nodes[p] {
		return zk.ErrNoNode
	}
	if len(c.children(p)) > 0 {
		return zk.ErrNotEmpty
	}
	delete(c.nodes, p)
	return nil
}

const resource = "coupon:issue:t-acme:spring:a@example.com"

func TestUnlockRemovesLockPath(t *testing.T) {
	conn := newMemConn()
	lock, err := NewDistributedLock(conn, resource)
	require.NoError(t, err)
	lockPath := lockRoot + "/" + resource

	require.NoError(t, lock.Lock(context.Background()))
	assert.True(t, conn.has(lockPath))

	require.NoError(t, lock.Unlock())
	assert.False(t, conn.has(lockPath))
	assert.True(t, conn.has(lockRoot))
	assert.Error(t, lock.Unlock())
}

func TestUnlockKeepsLockPathWithWaiters(t *testing.T) {
	conn := newMemConn()
	holder, err := NewDistributedLock(conn, resource)
	require.NoError(t, err)
	require.NoError(t, holder.Lock(context.Background()))

	waiter, err := NewDistributedLock(conn, resource)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = waiter.Lock(ctx) }()
	require.Eventually(t, func() bool {
		children, _, _ := conn.Children(holder.path)
		return len(children) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, holder.Unlock())
	assert.True(t, conn.has(holder.path))
}

func TestLockRecreatesRemovedLockPath(t *testing.T) {
	conn := newMemConn()
	lock, err := NewDistributedLock(conn, resource)
	require.NoError(t, err)

	// 另一个实例解锁时删掉了锁路径
	require.NoError(t, conn.Delete(lock.path, -1))

	require.NoError(t, lock.Lock(context.Background()))
	assert.True(t, strings.HasPrefix(lock.lockNode, lock.path+"/"))
	require.NoError(t, lock.Unlock())
}
