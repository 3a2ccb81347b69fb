// Package view はサーバーサイドで描画するHTMLページを提供する。
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/pulseboard/internal/dashboard"
	"github.com/hitoshi/pulseboard/internal/model"
	"github.com/hitoshi/pulseboard/internal/security"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// StaticHandler は埋め込みの静的ファイルを配信するハンドラーを返す。
// /static/ 配下にマウントする。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("embedded static directory is missing: %v", err))
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// AuthMode は認証ページの表示モード。
type AuthMode string

const (
	ModeSignIn AuthMode = "signin"
	ModeSignUp AuthMode = "signup"
)

// ParseAuthMode はクエリ文字列からモードを決める。未知の値はサインイン扱い。
func ParseAuthMode(raw string) AuthMode {
	if AuthMode(raw) == ModeSignUp {
		return ModeSignUp
	}
	return ModeSignIn
}

// AuthPage は認証ページの描画データ。
type AuthPage struct {
	Mode    AuthMode
	Error   string
	Success string
	Email   string
}

// SignUp はサインアップモードかどうかを返す。
func (p AuthPage) SignUp() bool {
	return p.Mode == ModeSignUp
}

// DashboardPage はダッシュボードページの描画データ。
type DashboardPage struct {
	User          *model.CurrentUser
	Summary       *dashboard.Summary
	Notifications *dashboard.NotificationList
}

// Username はナビゲーションバーに表示する名前を返す。
func (p DashboardPage) Username() string {
	if p.User == nil {
		return ""
	}
	if p.User.Profile != nil && p.User.Profile.Username != "" {
		return p.User.Profile.Username
	}
	return p.User.Email
}

// Greeting は見出しに表示する名前を返す。
func (p DashboardPage) Greeting() string {
	if p.User == nil || p.User.Profile == nil {
		return "User"
	}
	if name := p.User.Profile.DisplayName(); name != "" {
		return name
	}
	return "User"
}

// AvatarInitials はアバターに表示するイニシャルを返す。
func (p DashboardPage) AvatarInitials() string {
	if p.User == nil {
		return Initials("")
	}
	if p.User.Profile != nil && p.User.Profile.FullName != "" {
		return Initials(p.User.Profile.FullName)
	}
	return Initials(p.User.Email)
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	templates *template.Template
	sanitizer security.Sanitizer
	now       func() time.Time
}

// NewRenderer はテンプレートを解析してRendererを生成する。
func NewRenderer(sanitizer security.Sanitizer) (*Renderer, error) {
	r := &Renderer{
		sanitizer: sanitizer,
		now:       time.Now,
	}

	funcs := template.FuncMap{
		"timeAgo": func(t time.Time) string {
			return TimeAgo(t, r.now())
		},
		"initials":     Initials,
		"activityIcon": ActivityIcon,
		"activityDescription": func(a model.ActivityWithProfile) template.HTML {
			return ActivityDescription(a, r.sanitizer)
		},
		"notificationMessage": func(n model.Notification) template.HTML {
			// サニタイズ済みの文字列のみをHTMLとして扱う
			return template.HTML(r.sanitizer.Sanitize(n.Message))
		},
	}

	tmpl, err := template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	r.templates = tmpl
	return r, nil
}

// RenderAuth は認証ページを描画する。
func (r *Renderer) RenderAuth(w io.Writer, page AuthPage) error {
	if err := r.templates.ExecuteTemplate(w, "auth.html", page); err != nil {
		return fmt.Errorf("failed to render auth page: %w", err)
	}
	return nil
}

// RenderDashboard はダッシュボードページを描画する。
func (r *Renderer) RenderDashboard(w io.Writer, page DashboardPage) error {
	if page.Summary == nil {
		page.Summary = &dashboard.Summary{}
	}
	if page.Notifications == nil {
		page.Notifications = &dashboard.NotificationList{}
	}
	if err := r.templates.ExecuteTemplate(w, "dashboard.html", page); err != nil {
		return fmt.Errorf("failed to render dashboard page: %w", err)
	}
	return nil
}

var timeIntervals = []struct {
	name    string
	seconds int64
}{
	{"year", 31536000},
	{"month", 2592000},
	{"week", 604800},
	{"day", 86400},
	{"hour", 3600},
	{"minute", 60},
}

// TimeAgo はtからnowまでの経過時間を "3 hours ago" の形式で返す。
// 1分未満は "just now"。
func TimeAgo(t, now time.Time) string {
	seconds := int64(now.Sub(t) / time.Second)
	for _, iv := range timeIntervals {
		n := seconds / iv.seconds
		if n >= 1 {
			if n == 1 {
				return fmt.Sprintf("1 %s ago", iv.name)
			}
			return fmt.Sprintf("%d %ss ago", n, iv.name)
		}
	}
	return "just now"
}

// Initials は名前からアバター用のイニシャルを返す。
// 2語以上なら先頭2語の頭文字、1語なら先頭2文字を大文字で返す。
func Initials(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "?"
	}
	if len(parts) >= 2 {
		a, _ := utf8.DecodeRuneInString(parts[0])
		b, _ := utf8.DecodeRuneInString(parts[1])
		return strings.ToUpper(string([]rune{a, b}))
	}
	runes := []rune(parts[0])
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return strings.ToUpper(string(runes))
}

// ActivityIcon はアクティビティ種別のアイコンを返す。
func ActivityIcon(t model.ActivityType) string {
	switch t {
	case model.ActivityLogin:
		return "🔑"
	case model.ActivityLogout:
		return "🚪"
	case model.ActivityPageView:
		return "👁️"
	case model.ActivityProfileUpdate:
		return "✏️"
	case model.ActivitySettingsChange:
		return "⚙️"
	default:
		return "📝"
	}
}

var activityVerbs = map[model.ActivityType]string{
	model.ActivityLogin:          "logged in",
	model.ActivityLogout:         "logged out",
	model.ActivityPageView:       "viewed a page",
	model.ActivityProfileUpdate:  "updated their profile",
	model.ActivitySettingsChange: "changed settings",
}

// ActivityDescription はアクティビティの説明文をHTMLで返す。
// ユーザー名はタグを除去してから埋め込み、結果全体を再度サニタイズする。
func ActivityDescription(a model.ActivityWithProfile, sanitizer security.Sanitizer) template.HTML {
	name := "User"
	if a.Profile != nil {
		switch {
		case a.Profile.FullName != "":
			name = a.Profile.FullName
		case a.Profile.Username != "":
			name = a.Profile.Username
		}
	}

	verb, ok := activityVerbs[a.Type]
	if !ok {
		verb = "performed an action"
	}

	raw := fmt.Sprintf("<strong>%s</strong> %s", sanitizer.StripTags(name), verb)
	return template.HTML(sanitizer.Sanitize(raw))
}
