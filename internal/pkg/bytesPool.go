package pkg

import "sync"

// BytesPool 是一个字节池，用于缓存传输层的读缓冲
// 减少gc， 减少内存分配
type BytesPool struct {
	pool *sync.Pool
	size int
}

// NewBytesPool 创建一个字节池
// size 是每个缓冲区的大小
func NewBytesPool(size int) *BytesPool {
	return &BytesPool{
		size: size,
		pool: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get 从字节池中获取一个字节数组
func (p *BytesPool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:p.size]
}

// Put 将一个字节数组放回字节池, 容量不足的数组直接丢弃
func (p *BytesPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// ReadBufPool 是读缓冲的单例
// 默认大小为 64， 是 USB 全速批量端点的最大包长
var ReadBufPool = NewBytesPool(64)
