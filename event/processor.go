package event

// EventProcessor 事件处理器接口（避免循环依赖）
type EventProcessor interface {
	ProcessEvent(event *Event)
}

// ProcessorFunc 函数形式的事件处理器
type ProcessorFunc func(event *Event)

// ProcessEvent 实现 EventProcessor
func (f ProcessorFunc) ProcessEvent(event *Event) {
	f(event)
}
