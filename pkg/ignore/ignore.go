package ignore

import (
	"io/fs"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是用户自定义忽略规则的文件名
const FileName = ".ledgerignore"

// Matcher 判断导入目录时哪些文件应该被跳过
type Matcher struct {
	root    string
	ignorer *gitignore.GitIgnore
}

// NewMatcher 初始化忽略匹配器
// rootPath: 被导入的目录 (在其中查找 .ledgerignore)
func NewMatcher(rootPath string) (*Matcher, error) {
	// 1. 强制生效的默认规则
	defaultRules := []string{
		".ledger", // 仓库元数据目录，导入它会无限递归
		".git",

		"config.yaml", // 可能含有 S3 Secret Key
		".env",

		".DS_Store",
		"Thumbs.db",
	}

	var ignorer *gitignore.GitIgnore
	var err error

	// 2. 有 .ledgerignore 就和默认规则合并编译
	ignoreFilePath := filepath.Join(rootPath, FileName)
	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}
	if err != nil {
		return nil, err
	}

	return &Matcher{root: rootPath, ignorer: ignorer}, nil
}

// Matches 检查相对路径 (例如 "data/model.bin") 是否应该忽略
func (m *Matcher) Matches(path string) bool {
	if m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}

// Walk 遍历根目录下未被忽略的普通文件，rel 为斜杠分隔的相对路径。
// 被忽略的目录整体跳过。
func (m *Matcher) Walk(fn func(rel, abs string) error) error {
	return filepath.WalkDir(m.root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.root, abs)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if m.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(rel, abs)
	})
}
