package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ledgervault/pkg/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupIntegrationEnv 在临时目录里初始化一个真实的仓库 (磁盘分片 + badger + sqlite)
func setupIntegrationEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	t.Setenv("HOME", t.TempDir())

	out, err := run(t, nil, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized empty ledger repository")
	assert.DirExists(t, filepath.Join(tmpDir, ".ledger", "objects"))
	return tmpDir
}

// run 执行一条命令并返回输出。flag 变量是包级的，每次执行前重置。
func run(t *testing.T, stdin []byte, args ...string) (string, error) {
	t.Helper()
	putLazy, rmCached, getOutput, logLimit, syncWatch = false, false, "", 0, false
	require.NoError(t, rootCmd.PersistentFlags().Set("page", DefaultPage))

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetIn(bytes.NewReader(stdin))
	err := ExecuteContext(context.Background(), args...)
	return buf.String(), err
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestIntegration_CommitFlow(t *testing.T) {
	dir := setupIntegrationEnv(t)

	// 1. 单个文件、stdin 和目录
	writeFile(t, filepath.Join(dir, "hello.txt"), []byte("hello world"))
	writeFile(t, filepath.Join(dir, "data", "a.csv"), []byte("id,value\n1,2\n"))
	writeFile(t, filepath.Join(dir, "data", "nested", "b.csv"), []byte("id,value\n3,4\n"))
	writeFile(t, filepath.Join(dir, "data", "debug.log"), []byte("noise"))
	writeFile(t, filepath.Join(dir, "data", ".ledgerignore"), []byte("*.log\n"))

	out, err := run(t, nil, "put", "greeting", "hello.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "staged greeting")

	out, err = run(t, []byte("from stdin"), "put", "note")
	require.NoError(t, err)
	assert.Contains(t, out, "staged note")

	out, err = run(t, nil, "put", "data", "data")
	require.NoError(t, err)
	assert.Contains(t, out, "staged data/a.csv")
	assert.Contains(t, out, "staged data/nested/b.csv")
	assert.NotContains(t, out, "debug.log")

	out, err = run(t, nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No commits yet.")
	assert.Contains(t, out, "greeting")

	// 2. 提交
	out, err = run(t, nil, "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "generation 0")

	out, err = run(t, nil, "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to commit")

	// 3. 读取
	out, err = run(t, nil, "get", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = run(t, nil, "get", "note")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", out)

	// 4. 删除后再提交
	_, err = run(t, nil, "rm", "greeting")
	require.NoError(t, err)
	out, err = run(t, nil, "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "generation 1")

	_, err = run(t, nil, "get", "greeting")
	require.Error(t, err)
	assert.Equal(t, status.NotFound, status.CodeOf(err))

	// 5. 历史
	out, err = run(t, nil, "log")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "commit "))

	out, err = run(t, nil, "log", "-n", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "commit "))

	// 6. 导出目录
	exportDir := filepath.Join(dir, "restored")
	out, err = run(t, nil, "export", "data", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 3 value(s)")
	got, err := os.ReadFile(filepath.Join(exportDir, "nested", "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,value\n3,4\n", string(got))

	// 7. 没有配置同步通道
	out, err = run(t, nil, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "no sync channel configured")
}

func TestIntegration_LargeValueAndCat(t *testing.T) {
	dir := setupIntegrationEnv(t)

	big := bytes.Repeat([]byte("ledger-vault-large-value-"), 20000)
	writeFile(t, filepath.Join(dir, "big.bin"), big)

	_, err := run(t, nil, "put", "--lazy", "blob", "big.bin")
	require.NoError(t, err)
	_, err = run(t, nil, "commit")
	require.NoError(t, err)

	target := filepath.Join(dir, "out.bin")
	_, err = run(t, nil, "get", "blob", "-o", target)
	require.NoError(t, err)
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, big, got)

	// cat 提交前缀：打印提交和树
	out, err := run(t, nil, "status")
	require.NoError(t, err)
	fields := strings.Fields(out[strings.Index(out, "head "):])
	commitID := fields[1]

	out, err = run(t, nil, "cat", commitID[:10])
	require.NoError(t, err)
	assert.Contains(t, out, "Type:       Commit")
	assert.Contains(t, out, "LAZY")
	assert.Contains(t, out, "blob")
}

func TestIntegration_RmCached(t *testing.T) {
	dir := setupIntegrationEnv(t)
	writeFile(t, filepath.Join(dir, "x.txt"), []byte("x"))

	_, err := run(t, nil, "put", "x", "x.txt")
	require.NoError(t, err)
	_, err = run(t, nil, "rm", "--cached", "x")
	require.NoError(t, err)

	out, err := run(t, nil, "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to commit")
}

func TestIntegration_SeparatePages(t *testing.T) {
	dir := setupIntegrationEnv(t)
	writeFile(t, filepath.Join(dir, "v.txt"), []byte("only on page two"))

	_, err := run(t, nil, "--page", "two", "put", "k", "v.txt")
	require.NoError(t, err)
	_, err = run(t, nil, "--page", "two", "commit")
	require.NoError(t, err)

	out, err := run(t, nil, "--page", "two", "get", "k")
	require.NoError(t, err)
	assert.Equal(t, "only on page two", out)

	out, err = run(t, nil, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "No commits yet.")
}

func TestIntegration_NotInitialized(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := run(t, nil, "log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger init")
}
