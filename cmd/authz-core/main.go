// Command authz-core runs the authorization core server.
package main

import "github.com/velro/authz-core/cmd/authz-core/cmd"

func main() {
	cmd.Execute()
}
