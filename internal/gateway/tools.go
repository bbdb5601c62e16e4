package gateway

// Tool names in the browser automation vocabulary this agent targets.
// The backend remains free to offer more; these are the ones the
// governor and loop reference by name.
const (
	ToolNavigate       = "browser_navigate"
	ToolClick          = "browser_click"
	ToolType           = "browser_type"
	ToolSnapshot       = "browser_snapshot"
	ToolTakeScreenshot = "browser_take_screenshot"
	ToolTabList        = "browser_tab_list"
	ToolTabNew         = "browser_tab_new"
	ToolTabSelect      = "browser_tab_select"
	ToolTabClose       = "browser_tab_close"
	ToolWait           = "browser_wait"
)
