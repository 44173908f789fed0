package pkg

// ResponseAssembler 按到达顺序累积传输层读到的分片, 直到调用方认为一帧已经完整
//
// 协议本身并不是每种帧都带长度前缀, 所以何时解码由调用方决定 (超时或期望长度)。
// 每次完整交互结束后必须 Reset, 否则残留字节会污染下一次解码。
// 非并发安全, 归属于当前正在进行的读操作。
type ResponseAssembler struct {
	chunks [][]byte
	total  int
}

// NewResponseAssembler 创建一个空的组装器
func NewResponseAssembler() *ResponseAssembler {
	return &ResponseAssembler{}
}

// Append 追加一个分片, 分片会被复制
func (a *ResponseAssembler) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	a.chunks = append(a.chunks, c)
	a.total += len(c)
}

// Reset 丢弃所有已累积的字节
func (a *ResponseAssembler) Reset() {
	for i := range a.chunks {
		a.chunks[i] = nil
	}
	a.chunks = a.chunks[:0]
	a.total = 0
}

// CombinedLength 已累积的总字节数
func (a *ResponseAssembler) CombinedLength() int {
	return a.total
}

// Materialize 返回连续的完整缓冲区 (副本)
func (a *ResponseAssembler) Materialize() []byte {
	out := make([]byte, 0, a.total)
	for _, c := range a.chunks {
		out = append(out, c...)
	}
	return out
}
