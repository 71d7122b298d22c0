package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dqx0.com/go/httpwire/httpx"
)

func newGetCmd(a *app) *cobra.Command {
	var (
		method     string
		data       string
		headers    []string
		include    bool
		noRedirect bool
	)
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Send one request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			if data != "" {
				body = []byte(data)
				if method == "" {
					method = "POST"
				}
			}
			req, err := httpx.NewRequest(method, args[0], body)
			if err != nil {
				return err
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("header %q: want \"Name: value\"", h)
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			c := httpx.NewClient(a.cfg.Client)
			c.Logger = a.log
			if noRedirect {
				c.AllowRedirects = false
			}
			defer c.Pool.Close()

			res, err := c.Do(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if include {
				fmt.Fprintf(out, "%s %d %s\n", res.Proto, res.StatusCode, res.Status)
				res.Header.Each(func(name, value string) {
					fmt.Fprintf(out, "%s: %s\n", name, value)
				})
				fmt.Fprintln(out)
			}
			_, err = out.Write(res.Body)
			return err
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", "", "request method (GET, or POST with --data)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra header, \"Name: value\"")
	cmd.Flags().BoolVarP(&include, "include", "i", false, "print the status line and headers")
	cmd.Flags().BoolVar(&noRedirect, "no-redirect", false, "return redirects instead of following them")
	return cmd
}
