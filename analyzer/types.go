package analyzer

// --- JSON 输出结构体定义 ---

// ErrorResult 用于在 JSON 格式中返回错误信息
type ErrorResult struct {
	Error string `json:"error"`
}

// RegionStat is one in-window mapping in the JSON report.
type RegionStat struct {
	Start                  string  `json:"start"`
	End                    string  `json:"end"`
	Perms                  string  `json:"perms,omitempty"`
	Path                   string  `json:"path,omitempty"`
	Size                   uint64  `json:"size"`
	AnonHugePages          uint64  `json:"anonHugePages"`          // bytes
	AnonHugePagesFormatted string  `json:"anonHugePagesFormatted"` // e.g. "1.00 GB"
	Coverage               float64 `json:"coverage"`               // AnonHugePages / Size, percent
	PercentOfTotal         float64 `json:"percentOfTotal"`         // share of the window total
}

// UsageAnalysisResult 代表 THP 使用情况检查的整体结果 (JSON)
type UsageAnalysisResult struct {
	Verdict             Verdict      `json:"verdict"`
	Reason              string       `json:"reason,omitempty"`
	ThpEnabled          bool         `json:"useTransparentHugePages"`
	MadvPopulateWrite   bool         `json:"useMadvPopulateWrite"`
	HeapBase            string       `json:"heapBase,omitempty"` // 0x prefixed
	Window              uint64       `json:"window"`
	Threshold           uint64       `json:"threshold"`
	TotalValue          uint64       `json:"totalValue"` // bytes
	TotalValueFormatted string       `json:"totalValueFormatted"`
	Regions             []RegionStat `json:"regions"`
}

// FlameGraphNode 代表火焰图中的一个节点 (JSON)
// 用于生成层级化的 JSON 数据，适合 d3-flame-graph 等库使用
type FlameGraphNode struct {
	Name     string            `json:"name"`               // 区域名或其他标识符
	Value    int64             `json:"value"`              // 该节点及其子节点的总值
	Children []*FlameGraphNode `json:"children,omitempty"` // 子节点列表
}
