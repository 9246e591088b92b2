package rovas

// Endpoint names one of the Rovas rules-proxy operations.
type Endpoint string

const (
	VerifyAuthorization Endpoint = "verify-authorization"
	CreateWorkRecord    Endpoint = "create-work-record"
	CreateUsageRecord   Endpoint = "create-usage-record"
)

// Path returns the endpoint path below the base URL.
func (e Endpoint) Path() string {
	switch e {
	case VerifyAuthorization:
		return "/rovas/rules/rules_proxy_check_or_add_shareholder"
	case CreateWorkRecord:
		return "/rovas/rules/rules_proxy_create_work_report"
	case CreateUsageRecord:
		return "/rovas/rules/rules_proxy_create_aur"
	}
	return ""
}

// ResultField is the response field carrying the endpoint's result.
func (e Endpoint) ResultField() string {
	if e == CreateWorkRecord {
		return "created_wr_nid"
	}
	return "result"
}

func (e Endpoint) String() string { return string(e) }

// VerifyAuthorizationRequest asks the server to make the user a shareholder of the
// project, or to confirm they already are.
type VerifyAuthorizationRequest struct {
	ProjectID int64 `json:"project_id"`
}

// WorkRecordRequest creates a work report.
type WorkRecordRequest struct {
	Classification  int     `json:"wr_classification"`
	Description     string  `json:"wr_description"`
	ActivityName    string  `json:"wr_activity_name"`
	Hours           float64 `json:"wr_hours"`
	WebAddress      string  `json:"wr_web_address"`
	ParentProjectID int64   `json:"parent_project_nid"`
	DateStarted     int64   `json:"date_started"`
	AccessToken     string  `json:"access_token"`
	PublishStatus   int     `json:"publish_status"`
}

// UsageRecordRequest charges the connector's usage fee against a work report.
type UsageRecordRequest struct {
	ProjectID    int64   `json:"project_id"`
	WorkRecordID int64   `json:"wr_id"`
	UsageFee     float64 `json:"usage_fee"`
	Note         string  `json:"note"`
}
