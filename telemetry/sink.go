package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	minBroadcastHz = 1
	maxBroadcastHz = 60
)

// Detection 单个检测框, 坐标为帧内像素
type Detection struct {
	X1         float32 `json:"x1"`
	Y1         float32 `json:"y1"`
	X2         float32 `json:"x2"`
	Y2         float32 `json:"y2"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// FrameMeta 一帧的遥测元数据
type FrameMeta struct {
	TimestampNS    int64       `json:"timestamp_ns"`
	FPS            float64     `json:"fps"`
	LatencyMS      float64     `json:"latency_ms"`
	FrameCount     uint64      `json:"frame_count"`
	ActiveDelegate string      `json:"active_delegate"`
	Detections     []Detection `json:"detections"`
}

// broadcaster Sink 依赖的最小下游接口
type broadcaster interface {
	Broadcast(payload []byte)
	ClientCount() int
}

// Sink 限速帧元数据广播器。
// 单槽最新帧 + 脏标记, 写入永不阻塞, 旧帧直接被覆盖丢弃;
// 广播协程按钳到 [1, 60] Hz 的频率唤醒, 无客户端或无新帧时整轮跳过。
type Sink struct {
	dst      broadcaster
	interval time.Duration

	mu     sync.Mutex
	latest FrameMeta
	dirty  bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSink 创建并启动广播协程
func NewSink(dst broadcaster, rateHz int) *Sink {
	if rateHz < minBroadcastHz {
		rateHz = minBroadcastHz
	}
	if rateHz > maxBroadcastHz {
		rateHz = maxBroadcastHz
	}
	s := &Sink{
		dst:      dst,
		interval: time.Second / time.Duration(rateHz),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// Rate 生效的广播间隔
func (s *Sink) Rate() time.Duration {
	return s.interval
}

// PushFrame 替换最新帧槽位并置脏标记, 永不阻塞调用方
func (s *Sink) PushFrame(meta FrameMeta) {
	s.mu.Lock()
	s.latest = meta
	s.dirty = true
	s.mu.Unlock()
}

func (s *Sink) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.broadcastPending()
		}
	}
}

// broadcastPending 先探客户端数再消费脏标记,
// 无人订阅时帧保持待发状态, 不碰套接字层
func (s *Sink) broadcastPending() {
	if s.dst.ClientCount() == 0 {
		return
	}

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	meta := s.latest
	s.dirty = false
	s.mu.Unlock()

	if meta.Detections == nil {
		meta.Detections = []Detection{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		log.Error().Err(err).Msg("遥测序列化失败")
		return
	}
	s.dst.Broadcast(payload)
}

// Close 停止广播协程, 可重复调用
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.stop)
	})
	<-s.done
}
