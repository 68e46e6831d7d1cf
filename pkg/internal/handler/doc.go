// Package handler adapts typed Go functions into task handlers.
//
// Supported signatures, where T is the argument type and R the result type:
//
//	func(ctx context.Context, args T) (R, error)
//	func(ctx context.Context, args T) error
//	func(args T) (R, error)
//	func(args T) error
//
// T may be core.TaskInput, which is passed through as is. Any other T is
// decoded from the JSON form of the task input. R may implement
// core.Persistable; strings become core.Text and anything else core.JSON.
package handler
