package logg

const (
	Layer     = "layer"
	Operation = "operation"
	Provider  = "provider"
	Model     = "model"
	Selector  = "selector"
	URL       = "url"
	TaskID    = "task_id"
	Action    = "action"
	Step      = "step"
	Attempt   = "attempt"
)
