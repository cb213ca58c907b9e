package device

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"usage-telemetry/internal/domain"
)

const (
	mobileMaxWidth = 768
	tabletMaxWidth = 1024
)

// Classify выводит тип устройства, браузер и размер экрана из среды.
func Classify(env domain.Environment) domain.DeviceInfo {
	return domain.DeviceInfo{
		DeviceType: deviceType(env),
		Browser:    browser(env.UserAgent),
		ScreenSize: screenSize(env.ScreenWidth, env.ScreenHeight),
	}
}

func deviceType(env domain.Environment) string {
	ua := strings.ToLower(env.UserAgent)
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return domain.DeviceTablet
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "mobi"):
		return domain.DeviceMobile
	case strings.Contains(ua, "android"):
		// Android без "Mobile" в user-agent — планшет.
		return domain.DeviceTablet
	}
	width := env.ViewportWidth
	if width <= 0 {
		width = env.ScreenWidth
	}
	switch {
	case width <= 0:
		return domain.DeviceDesktop
	case width < mobileMaxWidth:
		return domain.DeviceMobile
	case width < tabletMaxWidth:
		return domain.DeviceTablet
	}
	return domain.DeviceDesktop
}

func browser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge/"), strings.Contains(ua, "edga/"), strings.Contains(ua, "edgios/"):
		return domain.BrowserEdge
	case strings.Contains(ua, "firefox/"), strings.Contains(ua, "fxios/"):
		return domain.BrowserFirefox
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"), strings.Contains(ua, "chromium/"):
		return domain.BrowserChrome
	case strings.Contains(ua, "safari/"):
		return domain.BrowserSafari
	}
	return domain.BrowserUnknown
}

func screenSize(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", width, height)
}

// ParseSize разбирает строку вида "1920x1080".
func ParseSize(raw string) (int, int, bool) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return 0, 0, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// Live хранит последнее известное состояние среды. Его обновляет API захвата,
// а DeliverySink читает при каждой отправке пачки.
type Live struct {
	mu  sync.RWMutex
	env domain.Environment
}

var _ domain.EnvironmentSource = (*Live)(nil)

// NewLive создаёт ячейку с начальным состоянием.
func NewLive(initial domain.Environment) *Live {
	return &Live{env: initial}
}

// Environment реализует domain.EnvironmentSource.
func (l *Live) Environment() domain.Environment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.env
}

// Update подменяет непустые поля среды.
func (l *Live) Update(env domain.Environment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if env.UserAgent != "" {
		l.env.UserAgent = env.UserAgent
	}
	if env.ScreenWidth > 0 && env.ScreenHeight > 0 {
		l.env.ScreenWidth = env.ScreenWidth
		l.env.ScreenHeight = env.ScreenHeight
	}
	if env.ViewportWidth > 0 {
		l.env.ViewportWidth = env.ViewportWidth
	}
}

// Classifier связывает источник среды с классификацией.
type Classifier struct {
	source domain.EnvironmentSource
}

// NewClassifier создаёт классификатор поверх источника среды.
func NewClassifier(source domain.EnvironmentSource) *Classifier {
	return &Classifier{source: source}
}

// DeviceInfo пересчитывает отпечаток по текущему состоянию, без кэширования.
func (c *Classifier) DeviceInfo() domain.DeviceInfo {
	return Classify(c.source.Environment())
}
