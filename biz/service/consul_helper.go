package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hashicorp/consul/api"
)

// ConsulHelper 封装 Consul 注册与 leader 选举
// 使用前请确保 Consul agent 已启动
type ConsulHelper struct {
	client *api.Client
}

// NewConsulHelperWithAddrs 支持多个 Consul 地址高可用
func NewConsulHelperWithAddrs(addrs []string, username, password string) (*ConsulHelper, error) {
	var lastErr error
	for _, addr := range addrs {
		cfg := api.DefaultConfig()
		cfg.Address = addr
		if username != "" {
			cfg.HttpAuth = &api.HttpBasicAuth{Username: username, Password: password}
		}
		cli, err := api.NewClient(cfg)
		if err == nil {
			// 尝试健康检查
			_, errPing := cli.Agent().Self()
			if errPing == nil {
				return &ConsulHelper{client: cli}, nil
			}
			lastErr = errPing
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("all consul addresses failed: %v", lastErr)
}

// Register 注册网关节点，健康检查走 /healthz
func (c *ConsulHelper) Register(serviceName, nodeID, host string, port int) error {
	reg := &api.AgentServiceRegistration{
		ID:      nodeID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/healthz", host, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	return c.client.Agent().ServiceRegister(reg)
}

func (c *ConsulHelper) Deregister(nodeID string) error {
	return c.client.Agent().ServiceDeregister(nodeID)
}

const leaderRetryInterval = 5 * time.Second

// leaderLock *api.Lock 的最小子集
type leaderLock interface {
	Lock(stopCh <-chan struct{}) (<-chan struct{}, error)
	Unlock() error
}

// RunLeaderElection 竞争 key 上的锁，持锁期间 onChange(true)，失去锁时 onChange(false)
// ctx 取消后释放锁并返回
func (c *ConsulHelper) RunLeaderElection(ctx context.Context, key string, onChange func(leader bool)) {
	lock, err := c.client.LockOpts(&api.LockOptions{
		Key:            key,
		SessionName:    "ai-trader-leader",
		SessionTTL:     "15s",
		LockWaitTime:   5 * time.Second,
		MonitorRetries: 3,
	})
	if err != nil {
		hlog.Errorf("[Consul] create lock %s failed: %v", key, err)
		return
	}
	runElection(ctx, lock, key, leaderRetryInterval, onChange)
}

func runElection(ctx context.Context, lock leaderLock, key string, retry time.Duration, onChange func(leader bool)) {
	for {
		if ctx.Err() != nil {
			return
		}
		lostCh, err := lock.Lock(ctx.Done())
		if err != nil {
			hlog.Warnf("[Consul] acquire lock %s failed: %v", key, err)
			select {
			case <-time.After(retry):
				continue
			case <-ctx.Done():
				return
			}
		}
		if lostCh == nil {
			// stopCh 关闭
			return
		}
		hlog.Infof("[Consul] became leader on %s", key)
		onChange(true)
		select {
		case <-lostCh:
			hlog.Warnf("[Consul] lost leadership on %s", key)
			onChange(false)
			// 失锁后 Lock 仍认为已持有，需先 Unlock 才能重新竞争
			_ = lock.Unlock()
		case <-ctx.Done():
			onChange(false)
			_ = lock.Unlock()
			return
		}
	}
}

// Client 返回 consul client
func (c *ConsulHelper) Client() *api.Client {
	return c.client
}
