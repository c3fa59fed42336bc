package app

// Command はtaskmanバイナリのサブコマンド。
type Command string

const (
	// CommandServe はタスクAPIのHTTPサーバーを起動する（デフォルト）。
	CommandServe Command = "serve"
	// CommandMigrate はusers/tasksテーブルのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの /api/health を叩いて終了コードで結果を返す。
	// シェルを持たないdistrolessイメージのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
)

var commandsByName = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はos.Args[1:]の先頭要素をサブコマンドとして解釈する。
// 2番目以降の引数は無視し、未指定や未知の名前はserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commandsByName[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
