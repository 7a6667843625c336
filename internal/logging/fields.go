package logging

import "github.com/sirupsen/logrus"

// RequestFields are attached to every log line about a mediated request
func RequestFields(method, url string) logrus.Fields {
	return logrus.Fields{
		"method": method,
		"url":    url,
	}
}

// ProxyFields extends RequestFields with what the proxy knows about the exchange
func ProxyFields(requestID, method, url, outcome string) logrus.Fields {
	fields := RequestFields(method, url)
	fields["request_id"] = requestID
	fields["outcome"] = outcome
	return fields
}
