package metadata

import "fmt"

/** @brief The hardware queue a command buffer is submitted to. */
type QueueType int

const (
	QueueGraphics QueueType = iota
	QueueCompute
)

func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	}
	return fmt.Sprintf("QueueType(%d)", int(q))
}

/** @brief What happens to an attachment's contents when a render pass begins. */
type LoadAction uint32

const (
	/** @brief Previous contents are undefined. */
	LoadActionDontCare LoadAction = iota
	/** @brief Previous contents are preserved. */
	LoadActionLoad
	/** @brief Contents are cleared to the texture's clear colour. */
	LoadActionClear
)

func (a LoadAction) String() string {
	switch a {
	case LoadActionDontCare:
		return "dont_care"
	case LoadActionLoad:
		return "load"
	case LoadActionClear:
		return "clear"
	}
	return fmt.Sprintf("LoadAction(%d)", uint32(a))
}

/** @brief What happens to an attachment's contents when a render pass ends. */
type StoreAction uint32

const (
	StoreActionDontCare StoreAction = iota
	StoreActionStore
)

func (a StoreAction) String() string {
	switch a {
	case StoreActionDontCare:
		return "dont_care"
	case StoreActionStore:
		return "store"
	}
	return fmt.Sprintf("StoreAction(%d)", uint32(a))
}

/** @brief How a pass accesses a resource. */
type AccessFlags uint32

const (
	AccessRead AccessFlags = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

func (a AccessFlags) CanRead() bool  { return a&AccessRead != 0 }
func (a AccessFlags) CanWrite() bool { return a&AccessWrite != 0 }

func (a AccessFlags) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "read_write"
	}
	return fmt.Sprintf("AccessFlags(%d)", uint32(a))
}
