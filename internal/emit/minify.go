package emit

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

func minify(code []byte, loader api.Loader, name string) ([]byte, error) {
	opts := api.TransformOptions{
		Loader:            loader,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: loader == api.LoaderJS,
		LegalComments:     api.LegalCommentsNone,
		Charset:           api.CharsetUTF8,
		Sourcefile:        name,
	}
	result := api.Transform(string(code), opts)
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			if m.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
				continue
			}
			msgs = append(msgs, m.Text)
		}
		return nil, fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return result.Code, nil
}
