package portal

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// loginForm is the set of hidden inputs scraped from the login page.
type loginForm struct {
	fields map[string]string
}

// parseLoginForm returns the hidden inputs of the form that holds the password field,
// falling back to the first form on the page.
func parseLoginForm(body []byte) (*loginForm, bool) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}

	var forms []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(forms) == 0 {
		return nil, false
	}

	chosen := forms[0]
	for _, f := range forms {
		if hasInput(f, fieldPassword) {
			chosen = f
			break
		}
	}

	form := &loginForm{fields: map[string]string{}}
	eachInput(chosen, func(n *html.Node) {
		if !strings.EqualFold(attr(n, "type"), "hidden") {
			return
		}
		name := attr(n, "name")
		if name == "" {
			return
		}
		form.fields[name] = attr(n, "value")
	})
	return form, true
}

func hasInput(form *html.Node, name string) bool {
	found := false
	eachInput(form, func(n *html.Node) {
		if attr(n, "name") == name {
			found = true
		}
	})
	return found
}

func eachInput(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode && n.Data == "input" {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		eachInput(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
