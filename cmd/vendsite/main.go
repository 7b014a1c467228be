// Command vendsite は自動販売機カタログサイトのAPIサーバー、ワーカー、運用コマンドを提供する。
//
//	vendsite [serve]          APIサーバーを起動する
//	vendsite worker           操作ログの保持期間クリーンアップを日次で実行する
//	vendsite migrate          データベースマイグレーションを適用する
//	vendsite provision-admin  管理者アカウントを事前登録する
//	vendsite healthcheck      /health を確認する（コンテナのヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/vendsite/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "vendsite: %v\n", err)
		os.Exit(1)
	}
}
