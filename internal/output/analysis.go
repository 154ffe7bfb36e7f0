// Package output renders the completion result: it extracts the JSON object the
// model produced, checks it against the analysis schema, optionally wraps it with
// run metadata and writes JSON or YAML to a file or stdout.
package output

// Announcement 是一条市政公告。
type Announcement struct {
	Title       string  `json:"title" yaml:"title"`
	Description string  `json:"description" yaml:"description"`
	Category    string  `json:"category" yaml:"category"`
	Date        *string `json:"date" yaml:"date"`
	Location    *string `json:"location" yaml:"location"`
}

// Event 是一条活动信息。
type Event struct {
	Title       string  `json:"title" yaml:"title"`
	Date        *string `json:"date" yaml:"date"`
	Time        *string `json:"time" yaml:"time"`
	Location    *string `json:"location" yaml:"location"`
	Description *string `json:"description" yaml:"description"`
}

// ImportantDate 是一个截止日期或重要日期。
type ImportantDate struct {
	Description string  `json:"description" yaml:"description"`
	Date        string  `json:"date" yaml:"date"`
	Details     *string `json:"details" yaml:"details"`
}

// Analysis 是带运行元数据的完整提取结果。
type Analysis struct {
	Summary        string          `json:"summary" yaml:"summary"`
	Announcements  []Announcement  `json:"announcements" yaml:"announcements"`
	Events         []Event         `json:"events" yaml:"events"`
	ImportantDates []ImportantDate `json:"important_dates" yaml:"important_dates"`
	ProcessingDate string          `json:"processing_date" yaml:"processing_date"`
	SourceDate     string          `json:"source_date" yaml:"source_date"`
	ModelUsed      string          `json:"model_used" yaml:"model_used"`
}

// normalize 把 nil 切片替换为空切片，保证输出中是 [] 而不是 null。
func (a *Analysis) normalize() {
	if a.Announcements == nil {
		a.Announcements = []Announcement{}
	}
	if a.Events == nil {
		a.Events = []Event{}
	}
	if a.ImportantDates == nil {
		a.ImportantDates = []ImportantDate{}
	}
}
