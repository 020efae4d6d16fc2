package util

import (
	"net"
	"strconv"
	"sync"

	"github.com/sony/sonyflake"
)

var (
	sonyFlake *sonyflake.Sonyflake
	once      sync.Once
)

// InitSonyFlake 初始化 Snowflake 实例
func InitSonyFlake() {
	once.Do(func() {
		sonyFlake = sonyflake.NewSonyflake(sonyflake.Settings{
			MachineID: machineID,
		})
	})
}

// machineID 取本机IP的低16位，容器内没有私网地址时退化为1
func machineID() (uint16, error) {
	ip := net.ParseIP(GetLocalIP()).To4()
	if ip == nil || ip.IsLoopback() {
		return 1, nil
	}
	return uint16(ip[2])<<8 + uint16(ip[3]), nil
}

// GenerateID 生成全局唯一ID
func GenerateID() (string, error) {
	InitSonyFlake()
	id, err := sonyFlake.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 10), nil
}
