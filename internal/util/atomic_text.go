package util

func WriteTextAtomic(path string, content string) error {
	return writeAtomic(path, "tmp-*.txt", []byte(content))
}
