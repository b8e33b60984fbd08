package tasks

// DefineTasks registers all available tasks
func DefineTasks() {
	// Register general tasks
	RegisterHandler(LogInfoTask.TaskID(), LogInfoTask.HandleExecution)

	// Register payment tasks
	RegisterHandler(SendPaymentReminderTask.TaskID(), SendPaymentReminderTask.HandleExecution)
	RegisterHandler(SweepCheckoutSessionsTask.TaskID(), SweepCheckoutSessionsTask.HandleExecution)
}
