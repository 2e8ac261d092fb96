package cli

import (
	"fmt"

	"github.com/flynn/go-docopt"
	"github.com/flynn/mongorole/keyfile"
)

func init() {
	Register("keyfile", runKeyfile, `
usage: mongorole keyfile generate --out=<path> [--force]
       mongorole keyfile fingerprint <path>

Options:
  -o --out=<path>  where to write the new keyfile
  --force          replace an existing keyfile

Commands:
  generate     write a new random replica set keyfile
  fingerprint  print the fingerprint of a keyfile

Generate replica set keyfiles and compare them across nodes.`)
}

func runKeyfile(args *docopt.Args) error {
	if args.Bool["generate"] {
		return runKeyfileGenerate(args)
	}
	return runKeyfileFingerprint(args)
}

func runKeyfileGenerate(args *docopt.Args) error {
	path := args.String["--out"]
	written, err := keyfile.WriteNew(path, args.Bool["--force"])
	if err != nil {
		return err
	}
	fp, err := keyfile.FingerprintFile(path)
	if err != nil {
		return err
	}
	if !written {
		fmt.Printf("%s exists, not replaced without --force\n", path)
	}
	fmt.Println(fp)
	return nil
}

func runKeyfileFingerprint(args *docopt.Args) error {
	fp, err := keyfile.FingerprintFile(args.String["<path>"])
	if err != nil {
		return err
	}
	fmt.Println(fp)
	return nil
}
