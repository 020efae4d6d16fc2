package redis

import (
	"context"
	"encoding/json"
	"time"
)

// CompensateRecord 补偿记录
// Payload: 原始对象JSON
// RetryCount: 重试次数
// LastRetryTime: 上次重试时间戳（秒）
type CompensateRecord struct {
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	LastRetryTime int64           `json:"last_retry_time"`
}

const MaxRetryCount = 10

func compensateKey(bucket string) string {
	return "compensate:" + bucket
}

// SaveCompensate 写入补偿记录
func SaveCompensate(ctx context.Context, bucket, id string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	rec := CompensateRecord{
		Payload:       payload,
		LastRetryTime: time.Now().Unix(),
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return Client.HSet(ctx, compensateKey(bucket), id, val).Err()
}

// UpdateCompensateRetry 更新补偿记录的重试次数和时间
func UpdateCompensateRetry(ctx context.Context, bucket, id string, rec *CompensateRecord) error {
	rec.RetryCount++
	rec.LastRetryTime = time.Now().Unix()
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return Client.HSet(ctx, compensateKey(bucket), id, val).Err()
}

// GetAllCompensates 遍历全部补偿记录，无法解析的条目被跳过
func GetAllCompensates(ctx context.Context, bucket string) (map[string]*CompensateRecord, error) {
	raw, err := Client.HGetAll(ctx, compensateKey(bucket)).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string]*CompensateRecord, len(raw))
	for id, v := range raw {
		var rec CompensateRecord
		if err := json.Unmarshal([]byte(v), &rec); err == nil {
			result[id] = &rec
		}
	}
	return result, nil
}

// DeleteCompensate 删除补偿记录
func DeleteCompensate(ctx context.Context, bucket, id string) error {
	return Client.HDel(ctx, compensateKey(bucket), id).Err()
}
