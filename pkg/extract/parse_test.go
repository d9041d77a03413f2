package extract_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatty/pkg/extract"
)

var _ = Describe("Parse", func() {
	DescribeTable("tolerates common output shapes",
		func(raw string, want []extract.Candidate, malformed int) {
			got, bad := extract.Parse(raw)
			Expect(got).To(Equal(want))
			Expect(bad).To(Equal(malformed))
		},
		Entry("plain object",
			`{"facts":[{"key":"user.name","value":"User's name is Sam"}]}`,
			[]extract.Candidate{{Key: "user.name", Value: "User's name is Sam"}}, 0),
		Entry("code fence",
			"```json\n{\"facts\":[{\"key\":\"user.city\",\"value\":\"Lives in Oslo\"}]}\n```",
			[]extract.Candidate{{Key: "user.city", Value: "Lives in Oslo"}}, 0),
		Entry("prose around the object",
			`Sure! Here you go: {"facts":[{"key":"Pet Name","value":"Has a dog named Rex"}]} Hope that helps.`,
			[]extract.Candidate{{Key: "user.pet_name", Value: "Has a dog named Rex"}}, 0),
		Entry("bare array",
			`[{"fact_key":"user.job","fact_text":"Works as a nurse"}]`,
			[]extract.Candidate{{Key: "user.job", Value: "Works as a nurse"}}, 0),
		Entry("single object without a wrapper",
			`{"key":"user.name","value":"Sam"}`,
			[]extract.Candidate{{Key: "user.name", Value: "Sam"}}, 0),
		Entry("single malformed object", `{"value":"Sam"}`, nil, 1),
		Entry("empty object", `{}`, nil, 0),
		Entry("empty facts", `{"facts":[]}`, nil, 0),
		Entry("empty output", "   ", nil, 0),
		Entry("not json", "I could not find any facts.", nil, 1),
	)

	It("counts malformed entries without dropping the good ones", func() {
		got, bad := extract.Parse(`{"facts":[
			{"key":"user.name","value":"User's name is Sam"},
			{"key":"","value":"no key"},
			{"key":"user.age","value":41},
			"just a string",
			{"key":"user.city","value":"   "}
		]}`)
		Expect(got).To(Equal([]extract.Candidate{{Key: "user.name", Value: "User's name is Sam"}}))
		Expect(bad).To(Equal(4))
	})

	It("keeps the last value for a repeated key in first-seen position", func() {
		got, bad := extract.Parse(`{"facts":[
			{"key":"user.name","value":"User's name is Sam"},
			{"key":"user.city","value":"Lives in Oslo"},
			{"key":"USER.NAME","value":"User's name is Samantha"}
		]}`)
		Expect(bad).To(BeZero())
		Expect(got).To(Equal([]extract.Candidate{
			{Key: "user.name", Value: "User's name is Samantha"},
			{Key: "user.city", Value: "Lives in Oslo"},
		}))
	})
})
