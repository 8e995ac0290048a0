/*
Package cli provides helpers shared by the tollgate commands.

Output Formatting:

Results are written as aligned text, JSON or CSV. Values implementing Table
get column output in text and CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Exit Codes:

Commands return a DeniedError when a limit refuses a request. ExitCode maps
it to status 2 so scripts can tell a denial from a failure (status 1).

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
