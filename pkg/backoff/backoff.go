// Package backoff 提供同步通道重试循环使用的指数退避。
// 每个实例只属于一个重试循环，不做并发保护。
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff 生成重试延迟
type Backoff interface {
	// GetNext 返回下一次等待时长，并推进内部状态
	GetNext() time.Duration
	// Reset 在一次成功操作后调用，恢复初始延迟
	Reset()
}

// Factory 为每个独立的重试流创建新实例
type Factory func() Backoff

// Config 对应配置项 sync.backoff.*
type Config struct {
	Initial time.Duration `mapstructure:"initial"`
	Factor  int           `mapstructure:"factor"`
	Max     time.Duration `mapstructure:"max"`
}

var DefaultConfig = Config{
	Initial: 100 * time.Millisecond,
	Factor:  2,
	Max:     time.Hour,
}

func (c Config) Validate() error {
	if c.Initial <= 0 {
		return fmt.Errorf("backoff initial delay must be positive, got %s", c.Initial)
	}
	if c.Factor < 1 {
		return fmt.Errorf("backoff factor must be >= 1, got %d", c.Factor)
	}
	if c.Max < c.Initial {
		return fmt.Errorf("backoff max delay %s is below initial %s", c.Max, c.Initial)
	}
	return nil
}

// Exponential: 返回 next + uniform[0, next]，然后 next = min(next*factor, max)
type Exponential struct {
	initial time.Duration
	factor  time.Duration
	max     time.Duration
	next    time.Duration

	// max/factor 预先算好，乘法之前比较，避免溢出
	maxBeforeFactor time.Duration

	// jitter 返回 [0, n] 内的随机数
	jitter func(n int64) int64
}

type Option func(*Exponential)

// WithJitter 注入随机源 (测试中用来固定抖动)
func WithJitter(fn func(n int64) int64) Option {
	return func(e *Exponential) { e.jitter = fn }
}

// NoJitter 使 GetNext 只返回确定部分
func NoJitter() Option {
	return WithJitter(func(int64) int64 { return 0 })
}

func NewExponential(cfg Config, opts ...Option) (*Exponential, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Exponential{
		initial:         cfg.Initial,
		factor:          time.Duration(cfg.Factor),
		max:             cfg.Max,
		next:            cfg.Initial,
		maxBeforeFactor: cfg.Max / time.Duration(cfg.Factor),
		jitter: func(n int64) int64 {
			if n >= math.MaxInt64 {
				return rand.Int64()
			}
			return rand.Int64N(n + 1)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewFactory 校验配置后返回工厂
func NewFactory(cfg Config, opts ...Option) (Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return func() Backoff {
		e, _ := NewExponential(cfg, opts...)
		return e
	}, nil
}

func (e *Exponential) GetNext() time.Duration {
	current := e.next

	if e.next <= e.maxBeforeFactor {
		e.next *= e.factor
	} else {
		e.next = e.max
	}
	if e.next > e.max {
		e.next = e.max
	}

	var jitter time.Duration
	if current > 0 {
		jitter = time.Duration(e.jitter(int64(current)))
	}
	// current + jitter 可能超过 MaxInt64
	if jitter > math.MaxInt64-current {
		return math.MaxInt64
	}
	return current + jitter
}

func (e *Exponential) Reset() {
	e.next = e.initial
}
