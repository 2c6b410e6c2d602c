package util

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadDict 加载字符集文件, 每行一个可识别单元。
// 第 i 行对应输出类别 i+1, 类别 0 保留给 CTC 空白符;
// 行序即类别序, 空行原样保留, 只剥掉 Windows 行尾的 \r。
func LoadDict(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开字符集文件 %s: %w", path, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取字符集文件时出错: %w", err)
	}
	return lines, nil
}
