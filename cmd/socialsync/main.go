// Command socialsync はソーシャルサービスのクライアント同期エンジンを起動する。
//
//	socialsync serve            ローカルブリッジ（JSON API）を起動する
//	socialsync watch <group>    グループページをマウントして更新をログに出す
//	socialsync healthcheck      ブリッジの /health を確認する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/socialsync/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "socialsync: %v\n", err)
		os.Exit(1)
	}
}
