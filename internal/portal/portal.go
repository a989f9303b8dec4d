// Package portal holds the wire-level contract with the reservation portal:
// endpoint paths, DOM selectors, page markers and the formats embedded in
// the portal's own JavaScript handlers.
package portal

import (
	"regexp"
	"strings"
)

const DefaultBaseURL = "https://www.cm9.eprs.jp/shinagawa/web"

// Page paths and URL markers.
const (
	PathHome              = "/index.jsp"
	PathLogin             = "/rsvWTransUserLoginAction.do"
	PathDateSearchAjax    = "/rsvWOpeUnreservedSearchAjaxAction.do"
	PathVacantSearchAjax  = "/rsvWOpeInstSrchVacantAjaxAction.do"
	PathDailyResults      = "/rsvWOpeUnreservedDailyAction.do"
	PathFacilityResults   = "/rsvWOpeInstSrchVacantAction.do"
	MarkerTermsURL        = "rsvWOpeReservedApplyAction"
	MarkerConfirmURL      = "rsvWInstUseruleRsvApplyAction"
	MarkerCompletionURL   = "rsvWInstRsvApplyAction"
	MarkerPaymentURL      = "rsvWRsvGetNotPaymentRsvDataListAction"
	MarkerCreditURL       = "rsvWCreditInitListAction"
	MarkerCancelListURL   = "rsvWGetCancelRsvDataAction"
	MarkerCancelledURL    = "rsvWCancelRsvAction"
	MarkerLoginURL        = "TransUserLogin"
	MarkerAuthenticated   = "UserAttestation"
	MarkerSystemErrorCode = "pawfa1000"
)

// Page title / text markers.
const (
	TitleError          = "エラー"
	TitleHome           = "ホーム"
	TitleTerms          = "利用規約"
	TitleConfirmation   = "予約内容確認"
	TitleCompletion     = "予約完了"
	TitlePayment        = "未入金予約の確認・支払"
	TitleCancelList     = "予約受付一覧"
	TitleCancelled      = "予約取消完了"
	TextLogout          = "ログアウト"
	TextSessionTimeout  = "セッションタイムアウト"
	TextReauthenticate  = "再度、認証を行って下さい"
	TextReservationNo   = "予約番号"
	TextSystemFault     = "システム異常"
	DialogConfirmSubmit = "予約申込処理を行います"
	DialogConfirmAsk    = "よろしいですか"
	DialogConfirmCancel = "取り消しますか"
	TextCancel          = "取消"
)

// Login page.
var (
	LoginEntry    = []string{`a[href*="UserLogin"]`, `a:has-text("ログイン")`, `button:has-text("ログイン")`, `input[value*="ログイン"]`}
	LoginUserID   = "#userId"
	LoginPassword = "#password"
	LoginSubmit   = "#btn-go"
	LogoutMarker  = []string{`a[href*="Logout"]`, `button[onclick*="Logout"]`, `a:has-text("ログアウト")`}
	HomeButton    = []string{`button[onclick*="index.jsp"]`, `a[href*="index.jsp"]`, `button:has-text("ホームへ")`, `button:has-text("Home")`}
)

// Search form.
var (
	SearchPanel         = "#free-search-cond"
	ChangeCondition     = []string{"#change-condition", `button:has-text("条件変更")`, `a:has-text("条件変更")`}
	SearchTabs          = "#free-info-nav"
	ActiveTab           = "#free-info-nav .nav-link.active"
	FacilityTab         = []string{`#free-info-nav a[href="#facility"]`, "#free-info-nav a:first-child", `a:has-text("施設ごと")`}
	FacilityTabLabel    = "施設ごと"
	DateRangeOneMonth   = []string{`label[for="thismonth"]`, "input#thismonth", `input[name="date"][value="4"]`}
	FacilitySelect      = []string{"select#bname", `select[name*="bcd"]`}
	CourtSelect         = []string{"select#iname", `select[name*="icd"]`}
	ActivitySelect      = []string{"select#purpose", `select[name*="purpose"]`}
	SearchSubmit        = []string{"#btn-search", `button:has-text("検索")`}
	ShowMore            = []string{"#unreserved-moreBtn", `button[onclick*="loadNext"]`}
	ResultsCourtSelect  = "#facility-select"
	TennisActivityValue = "31000000_31011700"
)

// Results page.
var (
	NoResultsPanel     = "#unreserved-notfound"
	ResultsPanel       = "#unreserved-list"
	ReservableButtons  = "td.reservation button.btn-go, table#week-info td.available"
	ReserveAction      = []string{"#btn-go", "button.btn-go.reserve"}
	ResultRows         = `tr[id^="20"]`
	ResultRowButton    = "td.reservation button"
	ResultParkCell     = "td.mansion"
	ResultFacilityCell = "td.facility"
)

// Weekly calendar.
var (
	WeeklyArea        = "#weekly"
	WeeklyExpand      = `#weekly button[data-toggle="collapse"]`
	WeekTable         = "table#week-info"
	WeekCells         = "table#week-info td[id]"
	WeekAvailable     = "table#week-info td.available"
	WeekCaption       = "table#week-info caption"
	WeekLoading       = "#loadingweek"
	NextWeek          = "#next-week"
	PreviousWeek      = "#last-week"
	AvailableOutline  = "calendar_available_outline.svg"
	MaxLookaheadWeeks = 6
)

// Commitment flow.
var (
	TermsAgree      = []string{`label[for="ruleFg_1"]`, `input[type="radio"]#ruleFg_1`, `input[type="radio"][name*="rule"][value="1"]`}
	FlowNext        = "#btn-go"
	UserCountInputs = `input[name="applyNum"], input[id^="peoples"]`
	EventLabelInput = `input[name="eventName"]`
	PaymentRedirect = []string{"#btn-go", `button:has-text("未入金予約の確認・支払へ")`}
	BackButton      = []string{"button.btn-back", `button:has-text("もどる")`}
)

// Reservation list and cancellation.
var (
	ReservationMenu = []string{
		`a.nav-link.dropdown-toggle:has-text("予約")`,
		`a[data-toggle="dropdown"]:has-text("予約")`,
		`a.nav-link[onclick*="doMsgListAction"]`,
		`a[onclick*="doMsgListAction"]`,
	}
	CancelListLink = []string{
		`a.dropdown-item[onclick*="gRsvWGetCancelRsvDataAction"]`,
		`a[href*="gRsvWGetCancelRsvDataAction"]`,
		`a[onclick*="gRsvWGetCancelRsvDataAction"]`,
		`a:has-text("予約の確認・取消")`,
	}
	CancelButtons = `button[onclick*="rsvcancel"], button[onclick*="gRsvWCancelRsvAction"]`
	BackToList    = []string{`button[onclick*="gRsvWGetCancelRsvDataAction"]`, `button:has-text("予約受付一覧へ")`}
)

var (
	// setReserv(this, "1040", "10400010", 1, 830, 1030, ...)
	SetReservPattern = regexp.MustCompile(`setReserv\([^,]+,\s*["'](\d+)["']\s*,\s*["'](\d+)["']\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)`)
	// doReserved(20260105,'1020','10200020',0,830,1030,31000000,31011700,...)
	DoReservedPattern = regexp.MustCompile(`doReserved\((\d+),\s*'(\d+)',\s*'(\d+)',\s*(\d+),\s*(\d+),\s*(\d+),\s*(\d+),\s*(\d+)`)
	// Reservation numbers are ten digits.
	ReservationNumberPattern  = regexp.MustCompile(`\d{10}`)
	LabelledReservationNumber = regexp.MustCompile(`予約番号\s*[：:]?\s*(?:<[^>]*>\s*)*(\d{10})`)
)

// IsSessionTimeout reports whether page text is the portal's session
// timeout page.
func IsSessionTimeout(content string) bool {
	return containsAny(content, TextSessionTimeout, TextReauthenticate, "Session timeout", "session timeout")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
