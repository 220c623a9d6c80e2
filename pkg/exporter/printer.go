package exporter

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"ledgervault/pkg/core"
)

// PrintStructure 解析并打印结构化对象 (Commit/Tree)。
// 如果是原始数据，返回 false，由调用者决定如何展示
func PrintStructure(data []byte, w io.Writer) (bool, error) {
	// 1. 尝试探测类型
	var header struct {
		TypeVal core.ObjectType `cbor:"t"`
	}
	if err := core.DecodeObject(data, &header); err != nil {
		return false, nil
	}

	// 2. 分发打印
	switch header.TypeVal {
	case core.TypeCommit:
		c, err := core.DecodeCommit(data)
		if err != nil {
			return true, err
		}
		PrintCommit(c, w)
		return true, nil
	case core.TypeTree:
		t, err := core.DecodeTree(data)
		if err != nil {
			return true, err
		}
		PrintTree(t, w)
		return true, nil
	default:
		return false, nil
	}
}

func PrintCommit(c *core.Commit, w io.Writer) {
	fmt.Fprintf(w, "Type:       Commit\n")
	fmt.Fprintf(w, "Hash:       %s\n", c.ID())
	fmt.Fprintf(w, "Generation: %d\n", c.Generation)
	fmt.Fprintf(w, "Time:       %s\n", c.Time().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Root:       %s\n", c.Root)
	for _, p := range c.Parents {
		fmt.Fprintf(w, "Parent:     %s\n", p.Hash)
	}
}

// PrintTree 模拟 git ls-tree 的输出格式
func PrintTree(t *core.Tree, w io.Writer) {
	fmt.Fprintf(w, "Type: Tree (%d entries)\n\n", t.Len())
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "PRIORITY\tKIND\tDIGEST\tKEY\n")
	for _, e := range t.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Priority, digestKind(e.Identifier.Digest), shortDigest(e.Identifier.Digest), fmtKey(e.Key))
	}
	tw.Flush()
}

func printFileIndex(idx *core.FileIndex, w io.Writer) {
	fmt.Fprintf(w, "Type:      FileIndex\n")
	fmt.Fprintf(w, "TotalSize: %s\n", fmtSize(idx.TotalSize))
	fmt.Fprintf(w, "Children:  %d\n", len(idx.Children))
}

func digestKind(d core.ObjectDigest) string {
	switch core.GetObjectDigestType(d) {
	case core.DigestInline:
		return "inline"
	case core.DigestIndexHash:
		return "index"
	default:
		return "value"
	}
}

func shortDigest(d core.ObjectDigest) string {
	if d.IsInline() {
		return fmtKey(core.ExtractObjectDigestData(d))
	}
	return d.Key().Short()
}

// fmtKey 可打印的 key 原样输出，否则加引号转义
func fmtKey(k []byte) string {
	if utf8.Valid(k) {
		s := string(k)
		if strconv.Quote(s) == `"`+s+`"` {
			return s
		}
	}
	return strconv.Quote(string(k))
}

func fmtSize(s uint64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
