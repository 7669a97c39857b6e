package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"manga-translator-web/logger"
)

// 找不到字体文件时依次扫描的目录
var fontDirs = []string{
	"fonts",
	"/usr/share/fonts",
	"/usr/local/share/fonts",
	"/System/Library/Fonts",
	"/Library/Fonts",
	"C:\\Windows\\Fonts",
}

type faceKey struct {
	path string
	size int
}

// FontSet 字体缓存：按路径解析一次 TTF，按 (路径, 字号) 缓存 Face。
// 指定字体不可用时使用内置的 Go Regular 字体，字号不变。
type FontSet struct {
	mutex    sync.Mutex
	fonts    map[string]*truetype.Font // nil 表示已确认不可用
	faces    map[faceKey]font.Face
	fallback *truetype.Font
	log      *logrus.Entry
}

// NewFontSet 创建字体缓存
func NewFontSet() *FontSet {
	fallback, err := truetype.Parse(goregular.TTF)
	if err != nil {
		// 内置字体解析失败属于构建问题
		panic(fmt.Sprintf("解析内置字体失败: %v", err))
	}
	return &FontSet{
		fonts:    make(map[string]*truetype.Font),
		faces:    make(map[faceKey]font.Face),
		fallback: fallback,
		log:      logger.WithField("component", "fonts"),
	}
}

// Font 返回路径对应的字体；第二个返回值表示是否使用了内置字体
func (fs *FontSet) Font(path string) (*truetype.Font, bool) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	return fs.fontLocked(path)
}

func (fs *FontSet) fontLocked(path string) (*truetype.Font, bool) {
	if path == "" {
		return fs.fallback, true
	}
	if f, ok := fs.fonts[path]; ok {
		if f == nil {
			return fs.fallback, true
		}
		return f, false
	}

	f, resolved, err := loadFont(path)
	if err != nil {
		fs.log.WithField("font", path).WithError(err).Warn("字体不可用，使用内置字体")
		fs.fonts[path] = nil
		return fs.fallback, true
	}
	fs.log.WithFields(logrus.Fields{"font": path, "resolved": resolved}).Info("已加载字体")
	fs.fonts[path] = f
	return f, false
}

// Face 返回指定字号的 Face
func (fs *FontSet) Face(path string, size int) (font.Face, bool) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	f, fallback := fs.fontLocked(path)
	key := faceKey{path: path, size: size}
	if fallback {
		key.path = ""
	}
	if face, ok := fs.faces[key]; ok {
		return face, fallback
	}

	face := truetype.NewFace(f, &truetype.Options{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingNone,
	})
	fs.faces[key] = face
	return face, fallback
}

// loadFont 读取并解析字体；相对路径找不到时按文件名扫描字体目录
func loadFont(path string) (*truetype.Font, string, error) {
	resolved := resolveFontPath(path)
	if resolved == "" {
		return nil, "", fmt.Errorf("字体文件不存在: %s", path)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, resolved, err
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, resolved, fmt.Errorf("解析字体失败: %w", err)
	}
	return f, resolved, nil
}

func resolveFontPath(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if filepath.IsAbs(path) {
		return ""
	}

	name := strings.ToLower(filepath.Base(path))
	found := ""
	for _, dir := range fontDirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
			if err != nil || found != "" {
				return nil
			}
			if !info.IsDir() && strings.ToLower(info.Name()) == name {
				found = p
				return filepath.SkipDir
			}
			return nil
		})
		if found != "" {
			return found
		}
	}
	return ""
}
