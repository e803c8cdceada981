package abi

import "fmt"

var classNames = map[Class]string{
	Yield:          "yield",
	Subscribe:      "subscribe",
	Command:        "command",
	AllowReadWrite: "allow-readwrite",
	AllowReadOnly:  "allow-readonly",
	Memop:          "memop",
}

func (c Class) String() string {
	name, ok := classNames[c]
	if ok {
		return name
	}
	return fmt.Sprintf("{Class %d}", uint32(c))
}

var errorNames = map[ErrorCode]string{
	Fail:        "fail",
	Busy:        "busy",
	Already:     "already",
	Off:         "off",
	Reserve:     "reserve",
	Invalid:     "invalid",
	Size:        "size",
	Cancel:      "cancel",
	NoMem:       "nomem",
	NoSupport:   "nosupport",
	NoDevice:    "nodevice",
	Uninstalled: "uninstalled",
}

func (e ErrorCode) String() string {
	name, ok := errorNames[e]
	if ok {
		return name
	}
	return fmt.Sprintf("{ErrorCode %d}", uint32(e))
}
