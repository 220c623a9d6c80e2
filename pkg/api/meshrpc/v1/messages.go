// Package meshrpc 定义副本之间的 gRPC 网格协议。
// 消息用 CBOR 编码 (content-subtype "cbor")，服务描述手写，不依赖代码生成。
package meshrpc

// Commit 是一条提交记录：ID 和规范编码
type Commit struct {
	ID   string `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

type AnnounceRequest struct {
	From    string   `cbor:"1,keyasint"`
	Page    string   `cbor:"2,keyasint"`
	Commits []Commit `cbor:"3,keyasint"`
}

type AnnounceResponse struct{}

type GetHeadsRequest struct {
	Page string `cbor:"1,keyasint"`
}

type GetHeadsResponse struct {
	Heads []string `cbor:"1,keyasint"`
}

type GetCommitsRequest struct {
	Page string   `cbor:"1,keyasint"`
	IDs  []string `cbor:"2,keyasint"`
}

type GetCommitsResponse struct {
	Commits []Commit `cbor:"1,keyasint"`
}

// GetPieceRequest 里的 Digest 是 ObjectDigest 的原始字节
type GetPieceRequest struct {
	Page   string `cbor:"1,keyasint"`
	Digest []byte `cbor:"2,keyasint"`
}

type GetPieceResponse struct {
	Data []byte `cbor:"1,keyasint"`
}
