package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// client is shared across subcommands with a conservative timeout.
var client = resty.New().SetTimeout(10 * time.Second)

func checkStatus(resp *resty.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

func doGet(url string) ([]byte, error) {
	return checkStatus(client.R().Get(url))
}

func doPostJSON(url string, payload interface{}) ([]byte, error) {
	return checkStatus(client.R().SetHeader("Content-Type", "application/json").SetBody(payload).Post(url))
}

func doDelete(url string) error {
	_, err := checkStatus(client.R().Delete(url))
	return err
}
