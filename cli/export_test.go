package cli

var (
	PrintReport = printReport
	LoadDesired = loadDesired
)

func Unregister(name string) {
	delete(commands, name)
}
