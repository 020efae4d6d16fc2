package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hashicorp/consul/api"
)

// Node 一个健康的网关节点
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// NodeCache 本地缓存 consul 中健康的网关节点
type NodeCache struct {
	lock      sync.RWMutex
	nodes     []Node
	lastIndex uint64
}

func NewNodeCache() *NodeCache {
	return &NodeCache{}
}

// Watch 阻塞查询持续刷新节点列表，ctx 取消后返回
func (nc *NodeCache) Watch(ctx context.Context, client *api.Client, service string) {
	health := client.Health()
	for {
		if ctx.Err() != nil {
			return
		}
		opts := (&api.QueryOptions{WaitIndex: nc.index(), WaitTime: 5 * time.Minute}).WithContext(ctx)
		entries, meta, err := health.Service(service, "", true, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			hlog.Warnf("[Gateway] 节点列表拉取失败: %v", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if meta.LastIndex == nc.index() {
			continue
		}
		nc.update(meta.LastIndex, entries)
		hlog.Infof("[Gateway] 节点列表已刷新, index=%d, nodes=%d", meta.LastIndex, len(entries))
	}
}

func (nc *NodeCache) index() uint64 {
	nc.lock.RLock()
	defer nc.lock.RUnlock()
	return nc.lastIndex
}

func (nc *NodeCache) update(index uint64, entries []*api.ServiceEntry) {
	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		if e.Service == nil {
			continue
		}
		addr := e.Service.Address
		if addr == "" && e.Node != nil {
			addr = e.Node.Address
		}
		nodes = append(nodes, Node{ID: e.Service.ID, Address: addr, Port: e.Service.Port})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	nc.lock.Lock()
	nc.nodes = nodes
	nc.lastIndex = index
	nc.lock.Unlock()
}

// Nodes 节点快照
func (nc *NodeCache) Nodes() []Node {
	nc.lock.RLock()
	defer nc.lock.RUnlock()
	out := make([]Node, len(nc.nodes))
	copy(out, nc.nodes)
	return out
}
