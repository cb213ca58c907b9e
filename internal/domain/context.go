package domain

// User описывает аутентифицированного пользователя у провайдера идентификации.
type User struct {
	ID string `json:"id"`
}

// Location — текущее состояние навигации.
type Location struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
}

// Environment описывает среду исполнения, из которой выводится тип устройства.
type Environment struct {
	UserAgent     string
	ScreenWidth   int
	ScreenHeight  int
	ViewportWidth int
}

// Типы устройств.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Браузеры.
const (
	BrowserChrome  = "chrome"
	BrowserFirefox = "firefox"
	BrowserSafari  = "safari"
	BrowserEdge    = "edge"
	BrowserUnknown = "unknown"
)

// DeviceInfo — грубый отпечаток устройства, прикладываемый к каждой записи пачки.
type DeviceInfo struct {
	DeviceType string
	Browser    string
	ScreenSize string
}
